package store

import (
	"strings"
	"time"
)

// Entry is the persisted unit of a collection.
type Entry struct {
	Key string
	// Metadata is stored as-is; the store never inspects it.
	Metadata string
	// Embedding is nil when the entry carries no vector.
	Embedding []float32
	// Timestamp is nil when the entry carries no timestamp.
	Timestamp *time.Time
}

// EntryWithScore is a nearest-match result with its cosine similarity.
type EntryWithScore struct {
	Entry *Entry
	Score float64 // cosine similarity in [-1, 1], higher is more similar
}

// ValidateCollectionName rejects empty and whitespace-only collection names.
func ValidateCollectionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalidArgument("collection name must not be empty")
	}
	return nil
}

// ValidateKey rejects empty and whitespace-only entry keys.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return invalidArgument("key must not be empty")
	}
	return nil
}

// ValidateEmbedding checks that a present embedding has the store's dimension.
// A nil embedding is always valid. A vector size of zero accepts any
// non-empty embedding.
func ValidateEmbedding(embedding []float32, vectorSize int) error {
	if embedding == nil {
		return nil
	}
	if len(embedding) == 0 {
		return invalidArgument("embedding must not be empty")
	}
	if vectorSize != 0 && len(embedding) != vectorSize {
		return invalidArgument("embedding dimension %d does not match vector size %d", len(embedding), vectorSize)
	}
	return nil
}

// ValidateQuery checks a nearest-match query vector. Unlike stored embeddings,
// a query must always be present.
func ValidateQuery(query []float32, vectorSize int) error {
	if len(query) == 0 {
		return invalidArgument("query embedding must not be empty")
	}
	if vectorSize != 0 && len(query) != vectorSize {
		return invalidArgument("query embedding dimension %d does not match vector size %d", len(query), vectorSize)
	}
	return nil
}

// ValidateVectorSize rejects negative vector sizes at construction time.
func ValidateVectorSize(vectorSize int) error {
	if vectorSize < 0 {
		return invalidArgument("vector size must not be negative: %d", vectorSize)
	}
	return nil
}

// CompactKeys drops blank keys so that one bad key never aborts a batch.
func CompactKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		out = append(out, k)
	}
	return out
}

// UTC returns a copy of t normalized to UTC, or nil.
func UTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
