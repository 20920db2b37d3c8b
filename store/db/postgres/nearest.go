package postgres

import (
	"context"
	"database/sql"
	"iter"

	"github.com/pgvector/pgvector-go"

	"github.com/hrygo/vecmem/store"
)

// NearestMatches ranks entries by cosine similarity inside PostgreSQL.
// The inner query orders by raw distance so that an ANN index can serve it;
// the outer query applies the relevance cutoff and a stable order.
func (d *DB) NearestMatches(ctx context.Context, collection string, query []float32, limit int, minRelevanceScore float64, includeEmbeddings bool) iter.Seq2[*store.EntryWithScore, error] {
	if err := checkName(collection); err != nil {
		return store.Fail[*store.EntryWithScore](err)
	}
	if err := store.ValidateQuery(query, d.vectorSize); err != nil {
		return store.Fail[*store.EntryWithScore](err)
	}
	if limit <= 0 {
		return store.Empty[*store.EntryWithScore]()
	}

	args := []any{pgvector.NewVector(query), limit, minRelevanceScore}

	// An unconstrained column may hold vectors of any length, and <=> fails
	// on a dimension mismatch.
	filter := `embedding IS NOT NULL`
	if d.vectorSize == 0 {
		filter += ` AND vector_dims(embedding) = ` + placeholder(4)
		args = append(args, len(query))
	}

	// The <=> operator computes cosine distance (1 - cosine_similarity).
	stmt := `
		SELECT ` + entryColumns(includeEmbeddings) + `, score
		FROM (
			SELECT key, metadata, embedding, timestamp, 1 - (embedding <=> ` + placeholder(1) + `) AS score
			FROM ` + d.tableName(collection) + `
			WHERE ` + filter + `
			ORDER BY embedding <=> ` + placeholder(1) + `
			LIMIT ` + placeholder(2) + `
		) AS nearest
		WHERE score >= ` + placeholder(3) + `
		ORDER BY score DESC, key`

	return queryRows(ctx, d, "nearest matches", collection, stmt, args, func(rows *sql.Rows) (*store.EntryWithScore, error) {
		var score float64
		entry, err := scanEntry(rows, &score)
		if err != nil {
			return nil, err
		}
		return &store.EntryWithScore{Entry: entry, Score: score}, nil
	})
}
