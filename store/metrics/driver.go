package metrics

import (
	"context"
	"iter"
	"time"

	"github.com/hrygo/vecmem/store"
)

// Driver instruments another store.Driver.
type Driver struct {
	inner    store.Driver
	exporter *PrometheusExporter
}

// NewDriver wraps inner so that every call is counted and timed.
func NewDriver(inner store.Driver, exporter *PrometheusExporter) *Driver {
	return &Driver{inner: inner, exporter: exporter}
}

func (d *Driver) observe(operation string, start time.Time, err error) {
	d.exporter.RecordOperation(operation, time.Since(start), err)
}

// observeSeq times a sequence from its first step until the consumer stops.
func observeSeq[T any](d *Driver, operation string, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		start := time.Now()
		d.exporter.activeCursors.Inc()
		var (
			rows    int
			lastErr error
		)
		defer func() {
			d.exporter.activeCursors.Dec()
			d.exporter.RecordRows(operation, rows)
			d.observe(operation, start, lastErr)
		}()

		for v, err := range seq {
			if err != nil {
				lastErr = err
			} else {
				rows++
			}
			if !yield(v, err) {
				return
			}
		}
	}
}

func (d *Driver) CollectionExists(ctx context.Context, name string) (bool, error) {
	start := time.Now()
	exists, err := d.inner.CollectionExists(ctx, name)
	d.observe("collection_exists", start, err)
	return exists, err
}

func (d *Driver) CreateCollection(ctx context.Context, name string) error {
	start := time.Now()
	err := d.inner.CreateCollection(ctx, name)
	d.observe("create_collection", start, err)
	return err
}

func (d *Driver) ListCollections(ctx context.Context) iter.Seq2[string, error] {
	return observeSeq(d, "list_collections", d.inner.ListCollections(ctx))
}

func (d *Driver) DropCollection(ctx context.Context, name string) error {
	start := time.Now()
	err := d.inner.DropCollection(ctx, name)
	d.observe("drop_collection", start, err)
	return err
}

func (d *Driver) Upsert(ctx context.Context, collection string, entry *store.Entry) error {
	start := time.Now()
	err := d.inner.Upsert(ctx, collection, entry)
	d.observe("upsert", start, err)
	return err
}

func (d *Driver) Read(ctx context.Context, collection, key string, includeEmbedding bool) (*store.Entry, error) {
	start := time.Now()
	entry, err := d.inner.Read(ctx, collection, key, includeEmbedding)
	d.observe("read", start, err)
	return entry, err
}

func (d *Driver) ReadBatch(ctx context.Context, collection string, keys []string, includeEmbedding bool) iter.Seq2[*store.Entry, error] {
	return observeSeq(d, "read_batch", d.inner.ReadBatch(ctx, collection, keys, includeEmbedding))
}

func (d *Driver) Delete(ctx context.Context, collection, key string) error {
	start := time.Now()
	err := d.inner.Delete(ctx, collection, key)
	d.observe("delete", start, err)
	return err
}

func (d *Driver) DeleteBatch(ctx context.Context, collection string, keys []string) error {
	start := time.Now()
	err := d.inner.DeleteBatch(ctx, collection, keys)
	d.observe("delete_batch", start, err)
	return err
}

func (d *Driver) NearestMatches(ctx context.Context, collection string, query []float32, limit int, minRelevanceScore float64, includeEmbeddings bool) iter.Seq2[*store.EntryWithScore, error] {
	return observeSeq(d, "nearest_matches", d.inner.NearestMatches(ctx, collection, query, limit, minRelevanceScore, includeEmbeddings))
}

func (d *Driver) VectorSize() int {
	return d.inner.VectorSize()
}

func (d *Driver) Migrate(ctx context.Context) error {
	start := time.Now()
	err := d.inner.Migrate(ctx)
	d.observe("migrate", start, err)
	return err
}

func (d *Driver) Ping(ctx context.Context) error {
	start := time.Now()
	err := d.inner.Ping(ctx)
	d.observe("ping", start, err)
	return err
}

func (d *Driver) Close() error {
	return d.inner.Close()
}
