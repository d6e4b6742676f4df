package vectorstore

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// hashEmbedder is a deterministic bag-of-words embedder: each token adds one
// to the bucket chosen by its FNV-1a hash.
type hashEmbedder struct {
	mu       sync.Mutex
	dim      int
	model    string
	failOn   string // texts containing this substring fail to embed
	queryErr error
	degraded bool
	calls    int
}

func newHashEmbedder() *hashEmbedder {
	return &hashEmbedder{dim: 256, model: "hash-bow-256"}
}

func (h *hashEmbedder) vector(text string) []float32 {
	h.mu.Lock()
	dim := h.dim
	h.mu.Unlock()

	v := make([]float32, dim)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		v[f.Sum32()%uint32(dim)]++
	}
	return v
}

func (h *hashEmbedder) EmbedPassage(_ context.Context, text string) ([]float32, error) {
	h.mu.Lock()
	h.calls++
	failOn := h.failOn
	h.mu.Unlock()
	if failOn != "" && strings.Contains(text, failOn) {
		return nil, errors.New("embedding backend rejected input")
	}
	return h.vector(text), nil
}

func (h *hashEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.EmbedPassage(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	h.mu.Lock()
	err := h.queryErr
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *hashEmbedder) ModelID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model
}

func (h *hashEmbedder) Degraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded
}

func (h *hashEmbedder) set(fn func(*hashEmbedder)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memPersister keeps partitions in maps, recording every call.
type memPersister struct {
	mu         sync.Mutex
	dimension  int
	partitions map[string]PartitionSnapshot
	deleted    []string
	failSave   error
	closed     bool
}

func newMemPersister() *memPersister {
	return &memPersister{partitions: make(map[string]PartitionSnapshot)}
}

func (m *memPersister) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &Snapshot{Dimension: m.dimension}
	for _, p := range m.partitions {
		snap.Partitions = append(snap.Partitions, p)
	}
	return snap, nil
}

func (m *memPersister) SavePartition(_ context.Context, p PartitionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.partitions[p.Scope.String()] = p
	return nil
}

func (m *memPersister) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, "personal:"+sessionID)
	m.deleted = append(m.deleted, sessionID)
	return nil
}

func (m *memPersister) SaveDimension(_ context.Context, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimension = dim
	return nil
}

func (m *memPersister) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memPersister) partition(key string) (PartitionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[key]
	return p, ok
}

type testEngine struct {
	*Engine
	embedder *hashEmbedder
	clock    *fakeClock
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	emb := newHashEmbedder()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e, err := New(context.Background(), emb, Config{}, opts...)
	require.NoError(t, err)
	return &testEngine{Engine: e, embedder: emb, clock: clock}
}

func passages(docID, filename string, contents ...string) []Passage {
	out := make([]Passage, len(contents))
	for i, c := range contents {
		out[i] = Passage{
			DocumentID: docID,
			Content:    c,
			Seq:        i,
			Metadata:   map[string]any{MetaFilename: filename, MetaPage: 1},
		}
	}
	return out
}

func personal(t *testing.T, id string) Scope {
	t.Helper()
	s, err := Personal(id)
	require.NoError(t, err)
	return s
}

func documentIDs(results []SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocumentID
	}
	return ids
}
