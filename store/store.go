package store

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// Store is the memory-record facade over a Driver. It validates arguments
// before they reach the backend and translates between MemoryRecord and Entry.
// It holds no mutable state of its own and is safe for concurrent use.
type Store struct {
	driver   Driver
	location *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the location timestamps are converted to on read.
// Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.location = loc
		}
	}
}

// New creates a new instance of Store.
func New(driver Driver, opts ...Option) *Store {
	s := &Store{
		driver:   driver,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close tears down the driver. A driver built on a caller-provided pool
// leaves that pool open.
func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) VectorSize() int {
	return s.driver.VectorSize()
}

func (s *Store) CreateCollection(ctx context.Context, collectionName string) error {
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	return s.driver.CreateCollection(ctx, collectionName)
}

func (s *Store) CollectionExists(ctx context.Context, collectionName string) (bool, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return false, err
	}
	return s.driver.CollectionExists(ctx, collectionName)
}

// ListCollections yields collection names in no particular order.
//
// Like every sequence of Store, it may hold the backend's only connection
// (SQLite) until the loop ends. Do not call other Store methods from inside
// the loop body: collect first, or break out before issuing the next call.
func (s *Store) ListCollections(ctx context.Context) iter.Seq2[string, error] {
	return s.driver.ListCollections(ctx)
}

func (s *Store) DropCollection(ctx context.Context, collectionName string) error {
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	return s.driver.DropCollection(ctx, collectionName)
}

// Upsert stores record under its metadata ID and returns that key.
// The record's Key field is overwritten with the ID.
func (s *Store) Upsert(ctx context.Context, collectionName string, record *MemoryRecord) (string, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return "", err
	}
	return s.upsert(ctx, collectionName, record)
}

// UpsertBatch upserts records one by one in input order and yields each key
// as soon as it is stored. Iteration stops at the first failure; records
// already written stay written.
func (s *Store) UpsertBatch(ctx context.Context, collectionName string, records []*MemoryRecord) iter.Seq2[string, error] {
	if err := ValidateCollectionName(collectionName); err != nil {
		return Fail[string](err)
	}
	return func(yield func(string, error) bool) {
		for i, record := range records {
			key, err := s.upsert(ctx, collectionName, record)
			if err != nil {
				yield("", errors.Wrapf(err, "upsert record %d of %d", i+1, len(records)))
				return
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// Get returns the record stored under key, or nil when there is none.
func (s *Store) Get(ctx context.Context, collectionName, key string, withEmbedding bool) (*MemoryRecord, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	entry, err := s.driver.Read(ctx, collectionName, key, withEmbedding)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return s.recordFromEntry(entry)
}

// GetBatch yields the records that exist among keys. Missing and blank keys are skipped.
// The loop body must not call back into the Store; see ListCollections.
func (s *Store) GetBatch(ctx context.Context, collectionName string, keys []string, withEmbeddings bool) iter.Seq2[*MemoryRecord, error] {
	if err := ValidateCollectionName(collectionName); err != nil {
		return Fail[*MemoryRecord](err)
	}
	return func(yield func(*MemoryRecord, error) bool) {
		for entry, err := range s.driver.ReadBatch(ctx, collectionName, CompactKeys(keys), withEmbeddings) {
			if err != nil {
				yield(nil, err)
				return
			}
			record, err := s.recordFromEntry(entry)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

// Remove deletes key. Removing a key that does not exist is not an error.
func (s *Store) Remove(ctx context.Context, collectionName, key string) error {
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.driver.Delete(ctx, collectionName, key)
}

// RemoveBatch deletes every existing key among keys. Missing and blank keys are
// ignored, but the collection itself must exist even when no key is left.
func (s *Store) RemoveBatch(ctx context.Context, collectionName string, keys []string) error {
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	return s.driver.DeleteBatch(ctx, collectionName, CompactKeys(keys))
}

// GetNearestMatches yields up to limit records ordered by descending similarity
// to embedding. A limit of zero or less yields nothing and never touches storage.
// The loop body must not call back into the Store; see ListCollections.
func (s *Store) GetNearestMatches(ctx context.Context, collectionName string, embedding []float32, limit int, minRelevanceScore float64, withEmbeddings bool) iter.Seq2[*MemoryRecordWithScore, error] {
	if err := ValidateCollectionName(collectionName); err != nil {
		return Fail[*MemoryRecordWithScore](err)
	}
	if limit <= 0 {
		return Empty[*MemoryRecordWithScore]()
	}
	return func(yield func(*MemoryRecordWithScore, error) bool) {
		matches := s.driver.NearestMatches(ctx, collectionName, embedding, limit, minRelevanceScore, withEmbeddings)
		for match, err := range matches {
			if err != nil {
				yield(nil, err)
				return
			}
			record, err := s.recordFromEntry(match.Entry)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(&MemoryRecordWithScore{Record: record, Score: match.Score}, nil) {
				return
			}
		}
	}
}

// GetNearestMatch returns the single best match, or nil when nothing qualifies.
func (s *Store) GetNearestMatch(ctx context.Context, collectionName string, embedding []float32, minRelevanceScore float64, withEmbedding bool) (*MemoryRecordWithScore, error) {
	match, _, err := First(s.GetNearestMatches(ctx, collectionName, embedding, 1, minRelevanceScore, withEmbedding))
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *Store) upsert(ctx context.Context, collectionName string, record *MemoryRecord) (string, error) {
	if record == nil {
		return "", invalidArgument("memory record must not be nil")
	}
	record.Key = record.Metadata.ID
	if err := ValidateKey(record.Key); err != nil {
		return "", err
	}

	metadata, err := record.SerializedMetadata()
	if err != nil {
		return "", err
	}

	// The caller's slice is handed to the driver as-is.
	embedding := record.Embedding
	if len(embedding) == 0 {
		embedding = nil
	}
	if err := ValidateEmbedding(embedding, s.driver.VectorSize()); err != nil {
		return "", err
	}

	entry := &Entry{
		Key:       record.Key,
		Metadata:  metadata,
		Embedding: embedding,
		Timestamp: UTC(record.Timestamp),
	}
	if err := s.driver.Upsert(ctx, collectionName, entry); err != nil {
		return "", err
	}

	slog.Debug("memory record upserted", "collection", collectionName, "key", record.Key)
	return record.Key, nil
}

func (s *Store) recordFromEntry(entry *Entry) (*MemoryRecord, error) {
	var timestamp *time.Time
	if entry.Timestamp != nil {
		t := entry.Timestamp.In(s.location)
		timestamp = &t
	}
	return FromJSONMetadata(entry.Metadata, entry.Embedding, entry.Key, timestamp)
}
