package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/internal/version"
	"github.com/hrygo/vecmem/store"
)

// Vector index kinds accepted in Options.VectorIndex.
const (
	IndexNone    = "none"
	IndexHNSW    = "hnsw"
	IndexIVFFlat = "ivfflat"
)

// minHNSWVersion is the first pgvector release with hnsw indexes.
const minHNSWVersion = "0.5.0"

// DefaultSchema is used when Options.Schema is empty.
const DefaultSchema = "public"

// Options configures a DB.
type Options struct {
	Schema      string
	VectorSize  int
	VectorIndex string

	// Pool settings, applied only to pools opened by the driver itself.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB stores collections as tables of one PostgreSQL schema, with embeddings in
// pgvector columns.
type DB struct {
	db         *sql.DB
	ownsDB     bool
	schema     string
	vectorSize int
	index      string
}

// NewDB opens the database described by the profile and returns a driver
// that owns the connection pool.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	return Open(profile.DSN, Options{
		Schema:          profile.Schema,
		VectorSize:      profile.VectorSize,
		VectorIndex:     profile.VectorIndex,
		MaxOpenConns:    profile.MaxOpenConns,
		MaxIdleConns:    profile.MaxIdleConns,
		ConnMaxLifetime: profile.ConnMaxLifetime,
	})
}

// Open connects to dsn. The returned driver closes the pool on Close.
func Open(dsn string, opts Options) (*DB, error) {
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}

	pgDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres db")
	}

	if opts.MaxOpenConns > 0 {
		pgDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		pgDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		pgDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	slog.Info("postgres memory store opened", "schema", opts.Schema, "vector_size", opts.VectorSize, "vector_index", opts.VectorIndex)
	return newDB(pgDB, true, opts), nil
}

// New wraps a pool owned by the caller. Close leaves that pool open.
func New(db *sql.DB, opts Options) (*DB, error) {
	if db == nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, "db must not be nil")
	}
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}
	return newDB(db, false, opts), nil
}

func newDB(db *sql.DB, owns bool, opts Options) *DB {
	return &DB{
		db:         db,
		ownsDB:     owns,
		schema:     opts.Schema,
		vectorSize: opts.VectorSize,
		index:      opts.VectorIndex,
	}
}

func validateOptions(opts *Options) error {
	if err := store.ValidateVectorSize(opts.VectorSize); err != nil {
		return err
	}
	if strings.TrimSpace(opts.Schema) == "" {
		opts.Schema = DefaultSchema
	}
	switch opts.VectorIndex {
	case "":
		opts.VectorIndex = IndexNone
	case IndexNone, IndexHNSW, IndexIVFFlat:
	default:
		return errors.Wrapf(store.ErrInvalidArgument, "unknown vector index %q", opts.VectorIndex)
	}
	return nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) VectorSize() int {
	return d.vectorSize
}

func (d *DB) Close() error {
	if !d.ownsDB {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return store.NewBackendError(ctx, "ping", "", err)
	}
	return nil
}

// Migrate makes sure the vector extension and the configured schema exist.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(d.schema),
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return store.NewBackendError(ctx, "migrate", "", err)
		}
	}

	var extVersion string
	err := d.db.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&extVersion)
	if err != nil {
		return store.NewBackendError(ctx, "migrate", "", err)
	}
	if err := checkExtensionVersion(extVersion, d.index); err != nil {
		return err
	}

	slog.Info("postgres memory store migrated", "schema", d.schema, "pgvector", extVersion)
	return nil
}

// checkExtensionVersion rejects index kinds the installed pgvector lacks.
func checkExtensionVersion(extVersion, index string) error {
	if index == IndexHNSW && !version.IsVersionGreaterOrEqualThan(extVersion, minHNSWVersion) {
		return errors.Errorf("hnsw index requires pgvector %s or later, found %s", minHNSWVersion, extVersion)
	}
	return nil
}

// maxIdentifierLength is NAMEDATALEN - 1. PostgreSQL silently truncates
// longer identifiers.
const maxIdentifierLength = 63

// checkName rejects collection names the server would truncate.
func checkName(name string) error {
	if len(name) > maxIdentifierLength {
		return errors.Wrapf(store.ErrInvalidArgument, "collection name %q is longer than %d bytes", name, maxIdentifierLength)
	}
	return nil
}

// tableName returns the schema-qualified, quoted table for a collection.
func (d *DB) tableName(collection string) string {
	return pq.QuoteIdentifier(d.schema) + "." + pq.QuoteIdentifier(collection)
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}
