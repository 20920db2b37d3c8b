package sqlite

import (
	"context"
	"database/sql"
	"iter"

	"github.com/hrygo/vecmem/store"
)

// queryRows runs query lazily, after checking that collection exists when
// one is given. Rows are closed when the loop ends, early break included.
func queryRows[T any](ctx context.Context, d *DB, op, collection, query string, args []any, scan func(*sql.Rows) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if collection != "" {
			if err := d.requireCollection(ctx, op, collection); err != nil {
				var zero T
				yield(zero, err)
				return
			}
		}
		yieldRows(ctx, d, op, collection, query, args, scan, yield)
	}
}

// yieldRows streams the rows of one query into yield. It reports whether the
// consumer wants more, so callers can chain several queries into one sequence.
func yieldRows[T any](ctx context.Context, d *DB, op, collection, query string, args []any, scan func(*sql.Rows) (T, error), yield func(T, error) bool) bool {
	var zero T
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		yield(zero, store.NewBackendError(ctx, op, collection, err))
		return false
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			yield(zero, store.NewBackendError(ctx, op, collection, err))
			return false
		}
		if !yield(v, nil) {
			return false
		}
	}
	if err := rows.Err(); err != nil {
		yield(zero, store.NewBackendError(ctx, op, collection, err))
		return false
	}
	return true
}
