package sqlite

import (
	"context"
	"database/sql"
	"iter"

	"github.com/hrygo/vecmem/store"
)

// NearestMatches scores every embedding of the collection with vec_cosine
// inside SQLite. There is no index, so this is an exact scan.
func (d *DB) NearestMatches(ctx context.Context, collection string, query []float32, limit int, minRelevanceScore float64, includeEmbeddings bool) iter.Seq2[*store.EntryWithScore, error] {
	if err := store.ValidateQuery(query, d.vectorSize); err != nil {
		return store.Fail[*store.EntryWithScore](err)
	}
	if limit <= 0 {
		return store.Empty[*store.EntryWithScore]()
	}

	stmt := `
		SELECT ` + entryColumns(includeEmbeddings) + `, score
		FROM (
			SELECT key, metadata, embedding, timestamp, timestamp_nanos, ` + cosineFunc + `(embedding, ?) AS score
			FROM memory_entry
			WHERE namespace = ? AND collection = ? AND embedding IS NOT NULL
		)
		WHERE score >= ?
		ORDER BY score DESC, key
		LIMIT ?`

	args := []any{encodeEmbedding(query), d.namespace, collection, minRelevanceScore, limit}
	return queryRows(ctx, d, "nearest matches", collection, stmt, args, func(rows *sql.Rows) (*store.EntryWithScore, error) {
		var score float64
		entry, err := scanEntry(rows, &score)
		if err != nil {
			return nil, err
		}
		return &store.EntryWithScore{Entry: entry, Score: score}, nil
	})
}
