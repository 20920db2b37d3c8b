package postgres

import (
	"context"
	"database/sql"
	"iter"
)

// queryRows runs query lazily. The statement is executed on the first
// iteration step and the rows are closed when the loop ends, early break
// included.
func queryRows[T any](ctx context.Context, d *DB, op, collection, query string, args []any, scan func(*sql.Rows) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		rows, err := d.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(zero, translateError(ctx, op, collection, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				yield(zero, translateError(ctx, op, collection, err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, translateError(ctx, op, collection, err))
		}
	}
}
