package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/store"
)

// Driver names understood by Open.
const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo driver. It is only available in cgo builds.
	DriverMattn = "sqlite3"
)

// DefaultNamespace is used when Options.Namespace is empty.
const DefaultNamespace = "public"

// Options configures a DB.
type Options struct {
	// Namespace groups collections the way a PostgreSQL schema does.
	Namespace  string
	VectorSize int
}

// DB keeps every collection of a namespace in two fixed tables: a catalog
// of collections and the entries themselves.
type DB struct {
	db         *sql.DB
	ownsDB     bool
	namespace  string
	vectorSize int
}

// NewDB opens the database file described by the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	driverName := profile.Driver
	if driverName == "" {
		driverName = DriverModernc
	}
	return Open(driverName, profile.DSN, Options{
		Namespace:  profile.Schema,
		VectorSize: profile.VectorSize,
	})
}

// Open connects to dsn with the named driver. The returned driver closes the
// pool on Close.
func Open(driverName, dsn string, opts Options) (*DB, error) {
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}

	// Connect with settings suited to a single local file:
	// - No foreign key constraints: the schema has none; be explicit anyway.
	// - busy_timeout so that a second process waits instead of failing.
	// - WAL journal mode, which prevents most locking issues.
	//
	// modernc.org/sqlite takes each pragma prefixed with `_pragma=`;
	// mattn/go-sqlite3 has dedicated underscore parameters.
	var sqlDriver, params string
	switch driverName {
	case DriverModernc:
		sqlDriver, params = DriverModernc, "_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	case DriverMattn:
		if !mattnAvailable {
			return nil, errors.Errorf("sqlite driver %q requires a cgo build", driverName)
		}
		sqlDriver, params = mattnDriverName, "_foreign_keys=0&_busy_timeout=10000&_journal_mode=WAL"
	default:
		return nil, errors.Errorf("unknown sqlite driver %q", driverName)
	}

	sqliteDB, err := sql.Open(sqlDriver, withParams(dsn, params))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY
	// between connections of the same process.
	// A consumer must therefore finish (or break out of) one sequence before
	// it starts another query on the same DB.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	slog.Info("sqlite memory store opened", "driver", driverName, "namespace", opts.Namespace, "vector_size", opts.VectorSize)
	return newDB(sqliteDB, true, opts), nil
}

// New wraps a pool owned by the caller. The pool must have been opened with
// a driver that provides vec_cosine, which both drivers of this package do.
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
		namespace:  opts.Namespace,
		vectorSize: opts.VectorSize,
	}
}

func validateOptions(opts *Options) error {
	if err := store.ValidateVectorSize(opts.VectorSize); err != nil {
		return err
	}
	if strings.TrimSpace(opts.Namespace) == "" {
		opts.Namespace = DefaultNamespace
	}
	return nil
}

func withParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
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

// Migrate creates the catalog and entry tables.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_collection (
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			created_ts INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (namespace, name)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_entry (
			namespace TEXT NOT NULL,
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB,
			timestamp INTEGER,
			timestamp_nanos INTEGER,
			PRIMARY KEY (namespace, collection, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return store.NewBackendError(ctx, "migrate", "", err)
		}
	}
	slog.Info("sqlite memory store migrated", "namespace", d.namespace)
	return nil
}
