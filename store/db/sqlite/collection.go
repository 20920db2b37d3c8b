package sqlite

import (
	"context"
	"database/sql"
	"iter"
	"log/slog"

	"github.com/hrygo/vecmem/store"
)

func (d *DB) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memory_collection WHERE namespace = ? AND name = ?)`,
		d.namespace, name,
	).Scan(&exists)
	if err != nil {
		return false, store.NewBackendError(ctx, "collection exists", name, err)
	}
	return exists, nil
}

// requireCollection fails with store.ErrNotFound when name is not in the catalog.
func (d *DB) requireCollection(ctx context.Context, op, name string) error {
	exists, err := d.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return store.NotFoundError(op, name)
	}
	return nil
}

func (d *DB) CreateCollection(ctx context.Context, name string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO memory_collection (namespace, name) VALUES (?, ?) ON CONFLICT (namespace, name) DO NOTHING`,
		d.namespace, name,
	)
	if err != nil {
		return store.NewBackendError(ctx, "create collection", name, err)
	}
	slog.Info("collection created", "collection", name, "namespace", d.namespace)
	return nil
}

func (d *DB) ListCollections(ctx context.Context) iter.Seq2[string, error] {
	query := `SELECT name FROM memory_collection WHERE namespace = ? ORDER BY name`
	return queryRows(ctx, d, "list collections", "", query, []any{d.namespace}, func(rows *sql.Rows) (string, error) {
		var name string
		err := rows.Scan(&name)
		return name, err
	})
}

// DropCollection removes the catalog row and every entry of the collection.
func (d *DB) DropCollection(ctx context.Context, name string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return store.NewBackendError(ctx, "drop collection", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entry WHERE namespace = ? AND collection = ?`, d.namespace, name); err != nil {
		return store.NewBackendError(ctx, "drop collection", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_collection WHERE namespace = ? AND name = ?`, d.namespace, name); err != nil {
		return store.NewBackendError(ctx, "drop collection", name, err)
	}
	if err := tx.Commit(); err != nil {
		return store.NewBackendError(ctx, "drop collection", name, err)
	}

	slog.Info("collection dropped", "collection", name, "namespace", d.namespace)
	return nil
}
