package sqlite

import (
	"context"
	"database/sql"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/vecmem/store"
)

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Upsert writes entry only if the collection is in the catalog, in a single
// statement, so that a concurrent drop cannot leave an orphan row behind.
func (d *DB) Upsert(ctx context.Context, collection string, entry *store.Entry) error {
	if err := store.ValidateEmbedding(entry.Embedding, d.vectorSize); err != nil {
		return err
	}

	stmt := `
		INSERT INTO memory_entry (namespace, collection, key, metadata, embedding, timestamp, timestamp_nanos)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM memory_collection WHERE namespace = ? AND name = ?)
		ON CONFLICT (namespace, collection, key)
		DO UPDATE SET
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			timestamp = excluded.timestamp,
			timestamp_nanos = excluded.timestamp_nanos`

	// Seconds and nanoseconds are kept apart: UnixNano overflows int64
	// outside the years 1678 to 2262.
	var seconds, nanos any
	if entry.Timestamp != nil {
		seconds, nanos = entry.Timestamp.Unix(), int64(entry.Timestamp.Nanosecond())
	}
	var embedding any
	if entry.Embedding != nil {
		embedding = encodeEmbedding(entry.Embedding)
	}

	result, err := d.db.ExecContext(ctx, stmt,
		d.namespace, collection, entry.Key, entry.Metadata, embedding, seconds, nanos,
		d.namespace, collection,
	)
	if err != nil {
		return store.NewBackendError(ctx, "upsert", collection, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewBackendError(ctx, "upsert", collection, err)
	}
	if affected == 0 {
		return store.NotFoundError("upsert", collection)
	}

	slog.Debug("entry upserted", "collection", collection, "key", entry.Key)
	return nil
}

func (d *DB) Read(ctx context.Context, collection, key string, includeEmbedding bool) (*store.Entry, error) {
	if err := d.requireCollection(ctx, "read", collection); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + entryColumns(includeEmbedding) + `
		FROM memory_entry
		WHERE namespace = ? AND collection = ? AND key = ?`

	entry, err := scanEntry(d.db.QueryRowContext(ctx, query, d.namespace, collection, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.NewBackendError(ctx, "read", collection, err)
	}
	return entry, nil
}

// ReadBatch yields entries chunk by chunk, each chunk ordered by key.
func (d *DB) ReadBatch(ctx context.Context, collection string, keys []string, includeEmbedding bool) iter.Seq2[*store.Entry, error] {
	return func(yield func(*store.Entry, error) bool) {
		if err := d.requireCollection(ctx, "read batch", collection); err != nil {
			yield(nil, err)
			return
		}
		for chunk := range slices.Chunk(keys, maxBatchKeys) {
			query := `
				SELECT ` + entryColumns(includeEmbedding) + `
				FROM memory_entry
				WHERE namespace = ? AND collection = ? AND key IN (` + placeholders(len(chunk)) + `)
				ORDER BY key`

			args := keyArgs(d.namespace, collection, chunk)
			if !yieldRows(ctx, d, "read batch", collection, query, args, scanEntryRow, yield) {
				return
			}
		}
	}
}

func scanEntryRow(rows *sql.Rows) (*store.Entry, error) {
	return scanEntry(rows)
}

func (d *DB) Delete(ctx context.Context, collection, key string) error {
	return d.DeleteBatch(ctx, collection, []string{key})
}

func (d *DB) DeleteBatch(ctx context.Context, collection string, keys []string) error {
	if err := d.requireCollection(ctx, "delete", collection); err != nil {
		return err
	}

	var deleted int64
	for chunk := range slices.Chunk(keys, maxBatchKeys) {
		stmt := `DELETE FROM memory_entry WHERE namespace = ? AND collection = ? AND key IN (` + placeholders(len(chunk)) + `)`
		result, err := d.db.ExecContext(ctx, stmt, keyArgs(d.namespace, collection, chunk)...)
		if err != nil {
			return store.NewBackendError(ctx, "delete", collection, err)
		}
		n, _ := result.RowsAffected()
		deleted += n
	}
	slog.Debug("entries deleted", "collection", collection, "requested", len(keys), "deleted", deleted)
	return nil
}

func entryColumns(includeEmbedding bool) string {
	if includeEmbedding {
		return `key, metadata, embedding, timestamp, timestamp_nanos`
	}
	return `key, metadata, NULL AS embedding, timestamp, timestamp_nanos`
}

func scanEntry(row rowScanner, extra ...any) (*store.Entry, error) {
	var (
		entry     store.Entry
		metadata  sql.NullString
		embedding []byte
		seconds   sql.NullInt64
		nanos     sql.NullInt64
	)
	dest := append([]any{&entry.Key, &metadata, &embedding, &seconds, &nanos}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	entry.Metadata = metadata.String
	vector, err := decodeEmbedding(embedding)
	if err != nil {
		slog.Warn("undecodable embedding", "key", entry.Key, "error", err)
		return nil, errors.Wrapf(err, "failed to decode embedding of %q", entry.Key)
	}
	entry.Embedding = vector
	if seconds.Valid {
		t := time.Unix(seconds.Int64, nanos.Int64).UTC()
		entry.Timestamp = &t
	}
	return &entry, nil
}

// maxBatchKeys bounds the keys bound to one statement, well below
// SQLITE_MAX_VARIABLE_NUMBER.
const maxBatchKeys = 500

func keyArgs(namespace, collection string, keys []string) []any {
	args := make([]any, 0, len(keys)+2)
	args = append(args, namespace, collection)
	for _, key := range keys {
		args = append(args, key)
	}
	return args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
