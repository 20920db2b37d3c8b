package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/vecmem/embedding"
	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/store"
)

// recordView is the JSON shape records are printed and imported in.
type recordView struct {
	ID                 string     `json:"id"`
	Text               string     `json:"text,omitempty"`
	Description        string     `json:"description,omitempty"`
	AdditionalMetadata string     `json:"additional_metadata,omitempty"`
	IsReference        bool       `json:"is_reference,omitempty"`
	ExternalSourceName string     `json:"external_source_name,omitempty"`
	Embedding          []float32  `json:"embedding,omitempty"`
	Timestamp          *time.Time `json:"timestamp,omitempty"`
	Score              *float64   `json:"score,omitempty"`
}

func viewOf(record *store.MemoryRecord) *recordView {
	return &recordView{
		ID:                 record.Metadata.ID,
		Text:               record.Metadata.Text,
		Description:        record.Metadata.Description,
		AdditionalMetadata: record.Metadata.AdditionalMetadata,
		IsReference:        record.Metadata.IsReference,
		ExternalSourceName: record.Metadata.ExternalSourceName,
		Embedding:          record.Embedding,
		Timestamp:          record.Timestamp,
	}
}

func (v *recordView) record() *store.MemoryRecord {
	if v.IsReference {
		return store.NewReferenceRecord(v.ID, v.ExternalSourceName, v.Description, v.Embedding, v.AdditionalMetadata, v.Timestamp)
	}
	return store.NewLocalRecord(v.ID, v.Text, v.Description, v.Embedding, v.AdditionalMetadata, v.Timestamp)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// parseEmbedding parses a comma separated list of floats. An empty string
// means no embedding.
func parseEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid embedding component %d", i)
		}
		v[i] = float32(f)
	}
	return v, nil
}

// resolveEmbedding returns the explicit vector if given, otherwise embeds text
// when embed is set.
func resolveEmbedding(ctx context.Context, p *profile.Profile, explicit, text string, embed bool) ([]float32, error) {
	v, err := parseEmbedding(explicit)
	if err != nil || v != nil || !embed {
		return v, err
	}
	if text == "" {
		return nil, errors.New("nothing to embed")
	}
	svc, err := newEmbeddingService(p)
	if err != nil {
		return nil, err
	}
	return svc.Embed(ctx, text)
}

func newEmbeddingService(p *profile.Profile) (embedding.Service, error) {
	if !p.IsEmbeddingEnabled() {
		return nil, errors.New("embedding provider not configured, set VECMEM_EMBEDDING_API_KEY")
	}
	return embedding.NewService(embedding.ConfigFromProfile(p))
}

func newUpsertCmd() *cobra.Command {
	var (
		collection string
		view       recordView
		vector     string
		embed      bool
		timestamp  string
	)
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Insert or replace a record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, s *store.Store, p *profile.Profile) error {
				var err error
				if view.Embedding, err = resolveEmbedding(ctx, p, vector, strings.TrimSpace(view.Text+" "+view.Description), embed); err != nil {
					return err
				}
				if timestamp != "" {
					ts, err := time.Parse(time.RFC3339, timestamp)
					if err != nil {
						return errors.Wrap(err, "invalid --timestamp")
					}
					view.Timestamp = &ts
				}
				key, err := s.Upsert(ctx, collection, view.record())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection name")
	cmd.Flags().StringVar(&view.ID, "id", "", "record id, used as key")
	cmd.Flags().StringVar(&view.Text, "text", "", "record text")
	cmd.Flags().StringVar(&view.Description, "description", "", "record description")
	cmd.Flags().StringVar(&view.AdditionalMetadata, "additional-metadata", "", "free-form metadata")
	cmd.Flags().BoolVar(&view.IsReference, "reference", false, "store a reference to an external source instead of text")
	cmd.Flags().StringVar(&view.ExternalSourceName, "source", "", "external source name for references")
	cmd.Flags().StringVar(&vector, "embedding", "", "embedding as comma separated floats")
	cmd.Flags().BoolVar(&embed, "embed", false, "compute the embedding from text and description")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "RFC3339 timestamp")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		collection    string
		withEmbedding bool
	)
	cmd := &cobra.Command{
		Use:   "get KEY...",
		Short: "Print records as JSON lines; missing keys are skipped",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *store.Store, _ *profile.Profile) error {
				for record, err := range s.GetBatch(ctx, collection, args, withEmbedding) {
					if err != nil {
						return err
					}
					if err := printJSON(cmd.OutOrStdout(), viewOf(record)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection name")
	cmd.Flags().BoolVar(&withEmbedding, "with-embedding", false, "include embeddings")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "remove KEY...",
		Short: "Remove records; missing keys are ignored",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *store.Store, _ *profile.Profile) error {
				if len(args) == 1 {
					return s.Remove(ctx, collection, args[0])
				}
				return s.RemoveBatch(ctx, collection, args)
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection name")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		collection     string
		vector         string
		query          string
		limit          int
		minScore       float64
		withEmbeddings bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Print the records nearest to a vector or query text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, s *store.Store, p *profile.Profile) error {
				if vector == "" && query == "" {
					return errors.New("one of --embedding or --query is required")
				}
				target, err := resolveEmbedding(ctx, p, vector, query, query != "")
				if err != nil {
					return err
				}
				for match, err := range s.GetNearestMatches(ctx, collection, target, limit, minScore, withEmbeddings) {
					if err != nil {
						return err
					}
					view := viewOf(match.Record)
					view.Score = &match.Score
					if err := printJSON(cmd.OutOrStdout(), view); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection name")
	cmd.Flags().StringVar(&vector, "embedding", "", "query embedding as comma separated floats")
	cmd.Flags().StringVarP(&query, "query", "q", "", "query text, embedded with the configured provider")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum relevance score")
	cmd.Flags().BoolVar(&withEmbeddings, "with-embeddings", false, "include embeddings")
	return cmd
}
