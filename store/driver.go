package store

import (
	"context"
	"iter"
)

// Driver is the capability set a storage backend has to provide.
// Implementations do the physical work only; argument validation and the
// record model live in Store.
//
// Entry operations against a collection that does not exist fail with
// ErrNotFound. No operation creates a collection implicitly.
//
// Sequences returned by a Driver are lazy, finite and single-use. The
// backend cursor is opened on the first iteration step and released when
// the loop ends, including an early break.
type Driver interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CreateCollection is a no-op when the collection already exists.
	CreateCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) iter.Seq2[string, error]
	// DropCollection is a no-op when the collection does not exist.
	DropCollection(ctx context.Context, name string) error

	// Upsert inserts entry or fully replaces the entry with the same key.
	Upsert(ctx context.Context, collection string, entry *Entry) error
	// Read returns (nil, nil) when key is not present.
	Read(ctx context.Context, collection, key string, includeEmbedding bool) (*Entry, error)
	// ReadBatch yields the entries that exist among keys, in backend order.
	ReadBatch(ctx context.Context, collection string, keys []string, includeEmbedding bool) iter.Seq2[*Entry, error]
	Delete(ctx context.Context, collection, key string) error
	DeleteBatch(ctx context.Context, collection string, keys []string) error

	// NearestMatches yields at most limit entries ordered by descending cosine
	// similarity to query, skipping scores below minRelevanceScore.
	NearestMatches(ctx context.Context, collection string, query []float32, limit int, minRelevanceScore float64, includeEmbeddings bool) iter.Seq2[*EntryWithScore, error]

	VectorSize() int
	// Migrate bootstraps whatever the backend needs before collections can be created.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	// Close releases the connection pool if, and only if, the driver opened it.
	Close() error
}
