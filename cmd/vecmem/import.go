package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hrygo/vecmem/embedding"
	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/store"
)

// importer upserts JSON lines into one collection in batches.
type importer struct {
	store      *store.Store
	collection string
	batchSize  int
	limiter    *rate.Limiter
	embedder   embedding.Service // nil disables embedding of records without a vector
}

// readRecords parses JSON lines from r and sends them to out. Records without
// an id get a random one.
func readRecords(ctx context.Context, r io.Reader, out chan<- *store.MemoryRecord) error {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var view recordView
		if err := json.Unmarshal([]byte(text), &view); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if strings.TrimSpace(view.ID) == "" {
			view.ID = uuid.NewString()
		}
		select {
		case out <- view.record():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrap(scanner.Err(), "failed to read input")
}

// run consumes records until in is closed and returns how many were stored.
func (im *importer) run(ctx context.Context, in <-chan *store.MemoryRecord) (int, error) {
	total := 0
	batch := make([]*store.MemoryRecord, 0, im.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.embedMissing(ctx, batch); err != nil {
			return err
		}
		for _, err := range im.store.UpsertBatch(ctx, im.collection, batch) {
			if err != nil {
				return err
			}
			total++
		}
		slog.Debug("imported batch", "collection", im.collection, "size", len(batch), "total", total)
		batch = batch[:0]
		return nil
	}

	for record := range in {
		if im.limiter != nil {
			if err := im.limiter.Wait(ctx); err != nil {
				return total, err
			}
		}
		batch = append(batch, record)
		if len(batch) == im.batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func (im *importer) embedMissing(ctx context.Context, batch []*store.MemoryRecord) error {
	if im.embedder == nil {
		return nil
	}
	var (
		targets []*store.MemoryRecord
		texts   []string
	)
	for _, record := range batch {
		if len(record.Embedding) > 0 {
			continue
		}
		text := strings.TrimSpace(record.Metadata.Text + " " + record.Metadata.Description)
		if text == "" {
			continue
		}
		targets = append(targets, record)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return nil
	}
	vectors, err := im.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, record := range targets {
		record.Embedding = vectors[i]
	}
	return nil
}

func newImportCmd() *cobra.Command {
	var (
		collection string
		batchSize  int
		perSecond  float64
		embed      bool
		create     bool
	)
	cmd := &cobra.Command{
		Use:   "import [FILE]",
		Short: "Upsert records from JSON lines (stdin when FILE is omitted or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize <= 0 {
				return errors.New("--batch-size must be positive")
			}
			var input io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrap(err, "failed to open input")
				}
				defer f.Close()
				input = f
			}

			return withStore(cmd, func(ctx context.Context, s *store.Store, p *profile.Profile) error {
				if create {
					if err := s.CreateCollection(ctx, collection); err != nil {
						return err
					}
				}
				im := &importer{store: s, collection: collection, batchSize: batchSize}
				if perSecond > 0 {
					im.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
				}
				if embed {
					svc, err := newEmbeddingService(p)
					if err != nil {
						return err
					}
					im.embedder = svc
				}

				var total int
				records := make(chan *store.MemoryRecord, batchSize)
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return readRecords(gctx, input, records)
				})
				g.Go(func() error {
					// A failure cancels gctx, which stops the reader.
					n, err := im.run(gctx, records)
					total = n
					return err
				})
				err := g.Wait()
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %q\n", total, collection)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection name")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "records per upsert batch")
	cmd.Flags().Float64Var(&perSecond, "rate", 0, "maximum records per second, 0 for unlimited")
	cmd.Flags().BoolVar(&embed, "embed", false, "embed records that carry no vector")
	cmd.Flags().BoolVar(&create, "create", false, "create the collection first")
	return cmd
}
