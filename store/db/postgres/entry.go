package postgres

import (
	"context"
	"database/sql"
	"iter"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/vecmem/store"
)

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) Upsert(ctx context.Context, collection string, entry *store.Entry) error {
	if err := checkName(collection); err != nil {
		return err
	}
	if err := store.ValidateEmbedding(entry.Embedding, d.vectorSize); err != nil {
		return err
	}

	stmt := `
		INSERT INTO ` + d.tableName(collection) + ` (key, metadata, embedding, timestamp)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (key)
		DO UPDATE SET
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			timestamp = EXCLUDED.timestamp`

	var embedding any
	if entry.Embedding != nil {
		embedding = pgvector.NewVector(entry.Embedding)
	}
	var timestamp any
	if entry.Timestamp != nil {
		timestamp = entry.Timestamp.UTC()
	}

	if _, err := d.db.ExecContext(ctx, stmt, entry.Key, entry.Metadata, embedding, timestamp); err != nil {
		return translateError(ctx, "upsert", collection, err)
	}
	slog.Debug("entry upserted", "collection", collection, "key", entry.Key)
	return nil
}

func (d *DB) Read(ctx context.Context, collection, key string, includeEmbedding bool) (*store.Entry, error) {
	if err := checkName(collection); err != nil {
		return nil, err
	}
	query := `
		SELECT ` + entryColumns(includeEmbedding) + `
		FROM ` + d.tableName(collection) + `
		WHERE key = ` + placeholder(1)

	entry, err := scanEntry(d.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(ctx, "read", collection, err)
	}
	return entry, nil
}

func (d *DB) ReadBatch(ctx context.Context, collection string, keys []string, includeEmbedding bool) iter.Seq2[*store.Entry, error] {
	if err := checkName(collection); err != nil {
		return store.Fail[*store.Entry](err)
	}
	query := `
		SELECT ` + entryColumns(includeEmbedding) + `
		FROM ` + d.tableName(collection) + `
		WHERE key = ANY(` + placeholder(1) + `)`

	return queryRows(ctx, d, "read batch", collection, query, []any{pq.Array(keys)}, func(rows *sql.Rows) (*store.Entry, error) {
		return scanEntry(rows)
	})
}

func (d *DB) Delete(ctx context.Context, collection, key string) error {
	if err := checkName(collection); err != nil {
		return err
	}
	stmt := `DELETE FROM ` + d.tableName(collection) + ` WHERE key = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, key); err != nil {
		return translateError(ctx, "delete", collection, err)
	}
	return nil
}

// DeleteBatch runs even for an empty key list so that a missing collection
// is still reported.
func (d *DB) DeleteBatch(ctx context.Context, collection string, keys []string) error {
	if err := checkName(collection); err != nil {
		return err
	}
	stmt := `DELETE FROM ` + d.tableName(collection) + ` WHERE key = ANY(` + placeholder(1) + `)`
	result, err := d.db.ExecContext(ctx, stmt, pq.Array(keys))
	if err != nil {
		return translateError(ctx, "delete batch", collection, err)
	}
	deleted, _ := result.RowsAffected()
	slog.Debug("entries deleted", "collection", collection, "requested", len(keys), "deleted", deleted)
	return nil
}

// entryColumns selects the entry columns. A NULL stands in for the embedding
// when it is not wanted so that the vector never leaves the server.
func entryColumns(includeEmbedding bool) string {
	if includeEmbedding {
		return `key, metadata, embedding, timestamp`
	}
	return `key, metadata, NULL AS embedding, timestamp`
}

func scanEntry(row rowScanner, extra ...any) (*store.Entry, error) {
	var (
		entry     store.Entry
		metadata  sql.NullString
		embedding []byte
		timestamp sql.NullTime
	)
	dest := append([]any{&entry.Key, &metadata, &embedding, &timestamp}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	entry.Metadata = metadata.String
	if embedding != nil {
		var vector pgvector.Vector
		if err := vector.Scan(embedding); err != nil {
			return nil, errors.Wrapf(err, "failed to decode embedding of %q", entry.Key)
		}
		entry.Embedding = vector.Slice()
	}
	if timestamp.Valid {
		t := timestamp.Time.In(time.UTC)
		entry.Timestamp = &t
	}
	return &entry, nil
}
