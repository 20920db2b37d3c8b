package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"

	"github.com/lib/pq"
)

func (d *DB) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = ` + placeholder(1) + `
				AND table_name = ` + placeholder(2) + `
				AND table_type = 'BASE TABLE'
		)`

	var exists bool
	if err := d.db.QueryRowContext(ctx, query, d.schema, name).Scan(&exists); err != nil {
		return false, translateError(ctx, "collection exists", name, err)
	}
	return exists, nil
}

// CreateCollection creates the collection table and, when configured, its
// vector index.
func (d *DB) CreateCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	stmt := `
		CREATE TABLE IF NOT EXISTS ` + d.tableName(name) + ` (
			key TEXT NOT NULL,
			metadata TEXT,
			embedding ` + d.vectorType() + `,
			timestamp TIMESTAMPTZ,
			PRIMARY KEY (key)
		)`
	if _, err := d.db.ExecContext(ctx, stmt); err != nil && !isAlreadyExists(err) {
		return translateError(ctx, "create collection", name, err)
	}

	if stmt := d.indexStatement(name); stmt != "" {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil && !isAlreadyExists(err) {
			return translateError(ctx, "create collection index", name, err)
		}
	}

	slog.Info("collection created", "collection", name, "schema", d.schema)
	return nil
}

func (d *DB) ListCollections(ctx context.Context) iter.Seq2[string, error] {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ` + placeholder(1) + `
			AND table_type = 'BASE TABLE'`

	return queryRows(ctx, d, "list collections", "", query, []any{d.schema}, func(rows *sql.Rows) (string, error) {
		var name string
		err := rows.Scan(&name)
		return name, err
	})
}

func (d *DB) DropCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+d.tableName(name)); err != nil {
		return translateError(ctx, "drop collection", name, err)
	}
	slog.Info("collection dropped", "collection", name, "schema", d.schema)
	return nil
}

// vectorType is the embedding column type. pgvector rejects vector(0), so a
// store without a dimension falls back to an unconstrained column.
func (d *DB) vectorType() string {
	if d.vectorSize == 0 {
		return "vector"
	}
	return fmt.Sprintf("vector(%d)", d.vectorSize)
}

// indexStatement returns the DDL for the configured ANN index, or "" when no
// index is wanted. Both index kinds need a fixed dimension.
func (d *DB) indexStatement(name string) string {
	if d.index == IndexNone || d.vectorSize == 0 {
		return ""
	}
	return `CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(indexName(name)) + ` ON ` + d.tableName(name) +
		` USING ` + d.index + ` (embedding vector_cosine_ops)`
}

// indexName derives the index name from the collection name. Names that
// would overflow an identifier get a hashed name so that two long
// collections never share an index.
func indexName(name string) string {
	if n := name + "_embedding_idx"; len(n) <= maxIdentifierLength {
		return n
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("vecmem_%08x_embedding_idx", h.Sum32())
}
