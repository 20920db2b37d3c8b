package store

import (
	"context"
	"iter"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Mock Driver for Testing
// ============================================================================

// mockDriver is an in-memory Driver. It ranks by a plain dot product, which
// is enough to exercise ordering in the facade.
type mockDriver struct {
	mu          sync.Mutex
	vectorSize  int
	collections map[string]map[string]*Entry
	calls       []string
	upsertErrAt int // fail the n-th upsert (1-based), 0 disables
	upserts     int
}

func newMockDriver(vectorSize int) *mockDriver {
	return &mockDriver{
		vectorSize:  vectorSize,
		collections: make(map[string]map[string]*Entry),
	}
}

func (m *mockDriver) record(op string) {
	m.calls = append(m.calls, op)
}

func (m *mockDriver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockDriver) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("exists")
	_, ok := m.collections[name]
	return ok, nil
}

func (m *mockDriver) CreateCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create")
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]*Entry)
	}
	return nil
}

func (m *mockDriver) ListCollections(_ context.Context) iter.Seq2[string, error] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list")
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return func(yield func(string, error) bool) {
		for _, name := range names {
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (m *mockDriver) DropCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("drop")
	delete(m.collections, name)
	return nil
}

func (m *mockDriver) Upsert(_ context.Context, collection string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("upsert")
	m.upserts++
	if m.upsertErrAt > 0 && m.upserts == m.upsertErrAt {
		return &BackendError{Op: "upsert", Collection: collection, Err: errors.New("disk full")}
	}
	entries, ok := m.collections[collection]
	if !ok {
		return NotFoundError("upsert", collection)
	}
	copied := *entry
	entries[entry.Key] = &copied
	return nil
}

func (m *mockDriver) lookup(collection, key string, includeEmbedding bool) *Entry {
	entry, ok := m.collections[collection][key]
	if !ok {
		return nil
	}
	copied := *entry
	if !includeEmbedding {
		copied.Embedding = nil
	}
	return &copied
}

func (m *mockDriver) Read(_ context.Context, collection, key string, includeEmbedding bool) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read")
	if _, ok := m.collections[collection]; !ok {
		return nil, NotFoundError("read", collection)
	}
	return m.lookup(collection, key, includeEmbedding), nil
}

func (m *mockDriver) ReadBatch(_ context.Context, collection string, keys []string, includeEmbedding bool) iter.Seq2[*Entry, error] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read batch")
	if _, ok := m.collections[collection]; !ok {
		return Fail[*Entry](NotFoundError("read batch", collection))
	}
	var entries []*Entry
	for _, key := range keys {
		if entry := m.lookup(collection, key, includeEmbedding); entry != nil {
			entries = append(entries, entry)
		}
	}
	return func(yield func(*Entry, error) bool) {
		for _, entry := range entries {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (m *mockDriver) Delete(ctx context.Context, collection, key string) error {
	return m.DeleteBatch(ctx, collection, []string{key})
}

func (m *mockDriver) DeleteBatch(_ context.Context, collection string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete")
	entries, ok := m.collections[collection]
	if !ok {
		return NotFoundError("delete", collection)
	}
	for _, key := range keys {
		delete(entries, key)
	}
	return nil
}

func (m *mockDriver) NearestMatches(_ context.Context, collection string, query []float32, limit int, minRelevanceScore float64, includeEmbeddings bool) iter.Seq2[*EntryWithScore, error] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("nearest")
	if err := ValidateQuery(query, m.vectorSize); err != nil {
		return Fail[*EntryWithScore](err)
	}
	var matches []*EntryWithScore
	for key, entry := range m.collections[collection] {
		if entry.Embedding == nil {
			continue
		}
		var score float64
		for i := range query {
			score += float64(query[i] * entry.Embedding[i])
		}
		if score < minRelevanceScore {
			continue
		}
		matches = append(matches, &EntryWithScore{Entry: m.lookup(collection, key, includeEmbeddings), Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.Key < matches[j].Entry.Key
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return func(yield func(*EntryWithScore, error) bool) {
		for _, match := range matches {
			if !yield(match, nil) {
				return
			}
		}
	}
}

func (m *mockDriver) VectorSize() int { return m.vectorSize }
func (m *mockDriver) Migrate(context.Context) error { return nil }
func (m *mockDriver) Ping(context.Context) error { return nil }
func (m *mockDriver) Close() error { return nil }

func newTestStore(t *testing.T, collections ...string) (*Store, *mockDriver) {
	t.Helper()
	driver := newMockDriver(3)
	s := New(driver, WithLocation(time.UTC))
	for _, name := range collections {
		require.NoError(t, s.CreateCollection(context.Background(), name))
	}
	return s, driver
}

// ============================================================================
// Tests
// ============================================================================

func TestCollectionNameValidation(t *testing.T) {
	s, driver := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"", " ", "\t\n"} {
		assert.ErrorIs(t, s.CreateCollection(ctx, name), ErrInvalidArgument)
		_, err := s.CollectionExists(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.ErrorIs(t, s.DropCollection(ctx, name), ErrInvalidArgument)
		_, err = s.Upsert(ctx, name, NewLocalRecord("a", "", "", nil, "", nil))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.Get(ctx, name, "a", false)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = Collect(s.GetBatch(ctx, name, []string{"a"}, false))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = Collect(s.UpsertBatch(ctx, name, nil))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.ErrorIs(t, s.Remove(ctx, name, "a"), ErrInvalidArgument)
		assert.ErrorIs(t, s.RemoveBatch(ctx, name, []string{"a"}), ErrInvalidArgument)
		_, err = Collect(s.GetNearestMatches(ctx, name, []float32{1, 0, 0}, 1, 0, false))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
	assert.Zero(t, driver.callCount(), "validation fails before any backend call")
}

func TestCollectionLifecycle(t *testing.T) {
	s, _ := newTestStore(t, "notes", "archive")
	ctx := context.Background()

	exists, err := s.CollectionExists(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, exists)

	names, err := Collect(s.ListCollections(ctx))
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "notes"}, names)

	require.NoError(t, s.DropCollection(ctx, "notes"))
	exists, err = s.CollectionExists(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpsertUsesMetadataID(t *testing.T) {
	s, driver := newTestStore(t, "notes")
	ctx := context.Background()

	record := NewLocalRecord("doc-1", "hello", "greeting", []float32{1, 0, 0}, `{"lang":"en"}`, nil)
	record.Key = "stale"

	key, err := s.Upsert(ctx, "notes", record)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", key)
	assert.Equal(t, "doc-1", record.Key)

	stored := driver.collections["notes"]["doc-1"]
	require.NotNil(t, stored)
	assert.JSONEq(t, `{
		"is_reference": false,
		"external_source_name": "",
		"id": "doc-1",
		"description": "greeting",
		"text": "hello",
		"additional_metadata": "{\"lang\":\"en\"}"
	}`, stored.Metadata)

	_, err = s.Upsert(ctx, "notes", NewLocalRecord(" ", "", "", nil, "", nil))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.Upsert(ctx, "notes", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpsertEmbeddingAndTimestamp(t *testing.T) {
	s, driver := newTestStore(t, "notes")
	ctx := context.Background()

	local := time.Date(2024, 5, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	_, err := s.Upsert(ctx, "notes", NewLocalRecord("a", "t", "", []float32{}, "", &local))
	require.NoError(t, err)

	stored := driver.collections["notes"]["a"]
	assert.Nil(t, stored.Embedding, "an empty embedding is stored as absent")
	require.NotNil(t, stored.Timestamp)
	assert.Equal(t, time.UTC, stored.Timestamp.Location())
	assert.True(t, local.Equal(*stored.Timestamp))

	_, err = s.Upsert(ctx, "notes", NewLocalRecord("b", "t", "", []float32{1, 2}, "", nil))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpsertMissingCollection(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upsert(context.Background(), "ghost", NewLocalRecord("a", "", "", nil, "", nil))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet(t *testing.T) {
	s, _ := newTestStore(t, "notes")
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	record := NewReferenceRecord("ext-7", "wiki", "page", []float32{0, 1, 0}, "", &ts)
	_, err := s.Upsert(ctx, "notes", record)
	require.NoError(t, err)

	got, err := s.Get(ctx, "notes", "ext-7", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.Metadata, got.Metadata)
	assert.Equal(t, []float32{0, 1, 0}, got.Embedding)
	assert.Equal(t, "ext-7", got.Key)
	require.NotNil(t, got.Timestamp)
	assert.True(t, ts.Equal(*got.Timestamp))

	got, err = s.Get(ctx, "notes", "ext-7", false)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)

	got, err = s.Get(ctx, "notes", "missing", true)
	require.NoError(t, err)
	assert.Nil(t, got, "a missing key is absent, not an error")

	_, err = s.Get(ctx, "notes", "", true)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetConvertsTimestampLocation(t *testing.T) {
	loc := time.FixedZone("JST", 9*60*60)
	driver := newMockDriver(3)
	s := New(driver, WithLocation(loc))
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "notes"))

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.Upsert(ctx, "notes", NewLocalRecord("a", "", "", nil, "", &ts))
	require.NoError(t, err)

	got, err := s.Get(ctx, "notes", "a", false)
	require.NoError(t, err)
	assert.Equal(t, loc, got.Timestamp.Location())
	assert.Equal(t, 21, got.Timestamp.Hour())
}

func TestUpsertBatch(t *testing.T) {
	s, _ := newTestStore(t, "notes")
	ctx := context.Background()

	records := []*MemoryRecord{
		NewLocalRecord("a", "1", "", nil, "", nil),
		NewLocalRecord("b", "2", "", nil, "", nil),
		NewLocalRecord("c", "3", "", nil, "", nil),
	}
	keys, err := Collect(s.UpsertBatch(ctx, "notes", records))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	// Stopping early leaves the rest unwritten.
	more := []*MemoryRecord{
		NewLocalRecord("d", "", "", nil, "", nil),
		NewLocalRecord("e", "", "", nil, "", nil),
	}
	for key, err := range s.UpsertBatch(ctx, "notes", more) {
		require.NoError(t, err)
		assert.Equal(t, "d", key)
		break
	}
	got, err := s.Get(ctx, "notes", "e", false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertBatchStopsAtFirstFailure(t *testing.T) {
	s, driver := newTestStore(t, "notes")
	driver.upsertErrAt = 2
	ctx := context.Background()

	records := []*MemoryRecord{
		NewLocalRecord("a", "", "", nil, "", nil),
		NewLocalRecord("b", "", "", nil, "", nil),
		NewLocalRecord("c", "", "", nil, "", nil),
	}
	keys, err := Collect(s.UpsertBatch(ctx, "notes", records))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "upsert record 2 of 3")
	assert.Equal(t, []string{"a"}, keys)

	got, err := s.Get(ctx, "notes", "a", false)
	require.NoError(t, err)
	assert.NotNil(t, got, "records written before the failure stay written")
	got, err = s.Get(ctx, "notes", "c", false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetBatchAndRemoveBatch(t *testing.T) {
	s, driver := newTestStore(t, "notes")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Upsert(ctx, "notes", NewLocalRecord(id, id, "", nil, "", nil))
		require.NoError(t, err)
	}

	records, err := Collect(s.GetBatch(ctx, "notes", []string{"a", "", "missing", "c"}, false))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Metadata.Text)
	assert.Equal(t, "c", records[1].Metadata.Text)

	require.NoError(t, s.RemoveBatch(ctx, "notes", []string{"a", " ", "missing"}))
	assert.NotContains(t, driver.collections["notes"], "a")
	assert.Contains(t, driver.collections["notes"], "b")

	// Only blank keys still go to the driver, which checks the collection.
	require.NoError(t, s.RemoveBatch(ctx, "notes", []string{"", " "}))
	assert.ErrorIs(t, s.RemoveBatch(ctx, "ghost", []string{"", " "}), ErrNotFound)
	assert.ErrorIs(t, s.RemoveBatch(ctx, "ghost", nil), ErrNotFound)
	_, err = Collect(s.GetBatch(ctx, "ghost", []string{" "}, false))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Remove(ctx, "notes", "b"))
	require.NoError(t, s.Remove(ctx, "notes", "b"), "removing twice is a no-op")
	assert.ErrorIs(t, s.Remove(ctx, "notes", ""), ErrInvalidArgument)
}

func TestGetNearestMatches(t *testing.T) {
	s, driver := newTestStore(t, "notes")
	ctx := context.Background()
	_, err := s.Upsert(ctx, "notes", NewLocalRecord("a", "", "", []float32{1, 0, 0}, "", nil))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "notes", NewLocalRecord("b", "", "", []float32{0, 1, 0}, "", nil))
	require.NoError(t, err)

	matches, err := Collect(s.GetNearestMatches(ctx, "notes", []float32{1, 0, 0}, 2, 0, true))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Record.Key)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, []float32{1, 0, 0}, matches[0].Record.Embedding)
	assert.Equal(t, "b", matches[1].Record.Key)
	assert.Equal(t, 0.0, matches[1].Score)

	before := driver.callCount()
	for _, limit := range []int{0, -1} {
		matches, err = Collect(s.GetNearestMatches(ctx, "notes", []float32{1, 0, 0}, limit, 0, false))
		require.NoError(t, err)
		assert.Empty(t, matches)
	}
	assert.Equal(t, before, driver.callCount(), "limit <= 0 never reaches the driver")

	_, err = Collect(s.GetNearestMatches(ctx, "notes", []float32{1, 0}, 1, 0, false))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetNearestMatch(t *testing.T) {
	s, _ := newTestStore(t, "notes")
	ctx := context.Background()

	match, err := s.GetNearestMatch(ctx, "notes", []float32{1, 0, 0}, 0, false)
	require.NoError(t, err)
	assert.Nil(t, match)

	_, err = s.Upsert(ctx, "notes", NewLocalRecord("a", "", "", []float32{1, 0, 0}, "", nil))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "notes", NewLocalRecord("b", "", "", []float32{0, 1, 0}, "", nil))
	require.NoError(t, err)

	match, err = s.GetNearestMatch(ctx, "notes", []float32{0, 1, 0}, 0.5, false)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "b", match.Record.Key)

	match, err = s.GetNearestMatch(ctx, "notes", []float32{0, 0, 1}, 0.5, false)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestConcurrentUpserts(t *testing.T) {
	s, driver := newTestStore(t, "notes")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, err := s.Upsert(ctx, "notes", NewLocalRecord(id, id, "", nil, "", nil))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Len(t, driver.collections["notes"], 20)
}
