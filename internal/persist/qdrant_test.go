package persist

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/qdrant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// fakeQdrant keeps collections in memory and returns scrolls in id order,
// as Qdrant does.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]map[string]*qdrant.Point
	sizes       map[string]uint64
	upsertErr   error
	closed      bool
}

var _ qdrant.Client = (*fakeQdrant)(nil)

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		collections: make(map[string]map[string]*qdrant.Point),
		sizes:       make(map[string]uint64),
	}
}

func (f *fakeQdrant) EnsureCollection(_ context.Context, name string, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[name]; !ok {
		f.collections[name] = make(map[string]*qdrant.Point)
		f.sizes[name] = size
	}
	return nil
}

func (f *fakeQdrant) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeQdrant) DeleteCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, collection string, points []*qdrant.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	c, ok := f.collections[collection]
	if !ok {
		return errors.New("collection not found")
	}
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

func matches(p *qdrant.Point, filter *qdrant.Filter) bool {
	if filter == nil {
		return true
	}
	for _, c := range filter.Must {
		if s, _ := p.Payload[c.Field].(string); s != c.Match {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) Scroll(_ context.Context, collection string, filter *qdrant.Filter) ([]*qdrant.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[collection]
	if !ok {
		return nil, errors.New("collection not found")
	}
	var out []*qdrant.Point
	for _, p := range c {
		if matches(p, filter) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeQdrant) DeleteByFilter(_ context.Context, collection string, filter *qdrant.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[collection]
	if !ok {
		return errors.New("collection not found")
	}
	for id, p := range c {
		if matches(p, filter) {
			delete(c, id)
		}
	}
	return nil
}

func (f *fakeQdrant) Health(context.Context) error { return nil }

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func (f *fakeQdrant) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[collection])
}

func TestQdrant_SaveDimensionCreatesCollections(t *testing.T) {
	client := newFakeQdrant()
	q := NewQdrant(client, "kb", nil)

	require.NoError(t, q.SaveDimension(context.Background(), 3))

	assert.Equal(t, map[string]uint64{"kb_global": 3, "kb_legacy": 3, "kb_personal": 3}, client.sizes)
}

func TestQdrant_DefaultPrefix(t *testing.T) {
	q := NewQdrant(newFakeQdrant(), "", nil)
	assert.Equal(t, "ragd_personal", q.collection(vectorstore.ScopePersonal))
}

func TestQdrant_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeQdrant()
	q := NewQdrant(client, "ragd", nil)
	s1 := mustPersonal(t, "S1")

	// ids sort opposite to save order
	require.NoError(t, q.SavePartition(ctx, vectorstore.PartitionSnapshot{
		Scope:    vectorstore.Global(),
		Passages: []vectorstore.StoredPassage{stored("zz", "doc-b", 0, 0, 1, 0), stored("aa", "doc-a", 0, 1, 0, 0)},
	}))
	require.NoError(t, q.SavePartition(ctx, vectorstore.PartitionSnapshot{
		Scope:     s1,
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(24 * time.Hour),
		Passages:  []vectorstore.StoredPassage{stored("p1", "notes", 2, 0, 0, 1)},
	}))

	snap, err := NewQdrant(client, "ragd", nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Dimension)
	require.Len(t, snap.Partitions, 2)

	global := findPartition(t, snap, vectorstore.Global())
	require.Len(t, global.Passages, 2)
	assert.Equal(t, "zz", global.Passages[0].ID)
	assert.Equal(t, "aa", global.Passages[1].ID)
	assert.Equal(t, "doc-b.txt", global.Passages[0].Metadata[vectorstore.MetaFilename])

	personal := findPartition(t, snap, s1)
	require.Len(t, personal.Passages, 1)
	assert.Equal(t, 2, personal.Passages[0].Seq)
	assert.Equal(t, "test-model", personal.Passages[0].ModelID)
	assert.True(t, personal.ExpiresAt.Equal(testNow.Add(24*time.Hour)))
	assert.True(t, personal.CreatedAt.Equal(testNow))
}

func TestQdrant_SavePartitionReplacesOnlyThatSession(t *testing.T) {
	ctx := context.Background()
	client := newFakeQdrant()
	q := NewQdrant(client, "ragd", nil)
	s1, s2 := mustPersonal(t, "S1"), mustPersonal(t, "S2")

	for _, s := range []vectorstore.Scope{s1, s2} {
		require.NoError(t, q.SavePartition(ctx, vectorstore.PartitionSnapshot{
			Scope:     s,
			CreatedAt: testNow,
			ExpiresAt: testNow.Add(time.Hour),
			Passages:  []vectorstore.StoredPassage{stored("a-"+s.SessionID(), "d", 0, 1, 0), stored("b-"+s.SessionID(), "d", 1, 0, 1)},
		}))
	}
	require.NoError(t, q.SavePartition(ctx, vectorstore.PartitionSnapshot{
		Scope:     s1,
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(time.Hour),
	}))
	assert.Equal(t, 2, client.count("ragd_personal"))

	require.NoError(t, q.DeleteSession(ctx, "S2"))
	assert.Equal(t, 0, client.count("ragd_personal"))
}

func TestQdrant_EmptyPartitionBeforeAnyCollection(t *testing.T) {
	client := newFakeQdrant()
	q := NewQdrant(client, "ragd", nil)

	require.NoError(t, q.SavePartition(context.Background(), vectorstore.PartitionSnapshot{Scope: vectorstore.Legacy()}))
	require.NoError(t, q.DeleteSession(context.Background(), "S1"))
	assert.Empty(t, client.collections)

	snap, err := q.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Partitions)
}

func TestQdrant_UpsertError(t *testing.T) {
	client := newFakeQdrant()
	client.upsertErr = errors.New("unavailable")
	q := NewQdrant(client, "ragd", nil)

	err := q.SavePartition(context.Background(), vectorstore.PartitionSnapshot{
		Scope:    vectorstore.Global(),
		Passages: []vectorstore.StoredPassage{stored("g1", "d", 0, 1, 0)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upserting partition global")
}

func TestQdrant_LoadSkipsUnreadablePoints(t *testing.T) {
	ctx := context.Background()
	client := newFakeQdrant()
	require.NoError(t, client.EnsureCollection(ctx, "ragd_global", 2))
	require.NoError(t, client.Upsert(ctx, "ragd_global", []*qdrant.Point{
		{ID: "broken", Vector: []float32{1, 0}, Payload: map[string]interface{}{fieldMetadata: "{not json"}},
		{ID: "novector", Payload: map[string]interface{}{fieldDocumentID: "d"}},
	}))

	snap, err := NewQdrant(client, "ragd", nil).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Partitions)
}

func TestQdrant_Close(t *testing.T) {
	client := newFakeQdrant()
	require.NoError(t, NewQdrant(client, "", nil).Close())
	assert.True(t, client.closed)
}

func TestPayloadInt(t *testing.T) {
	p := map[string]interface{}{"a": int64(4), "b": 5, "c": 6.0, "d": "x"}
	assert.Equal(t, int64(4), payloadInt(p, "a"))
	assert.Equal(t, int64(5), payloadInt(p, "b"))
	assert.Equal(t, int64(6), payloadInt(p, "c"))
	assert.Equal(t, int64(0), payloadInt(p, "d"))
	assert.True(t, payloadTime(p, "missing").IsZero())
}
