package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var testTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeEngine records calls. reject makes it reject that many passages per call.
type fakeEngine struct {
	mu        sync.Mutex
	ingested  map[string][]vectorstore.Passage
	scopes    map[string]vectorstore.Scope
	deleted   []string
	calls     []string
	reject    int
	ingestErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		ingested: make(map[string][]vectorstore.Passage),
		scopes:   make(map[string]vectorstore.Scope),
	}
}

func (f *fakeEngine) Ingest(_ context.Context, passages []vectorstore.Passage, scope vectorstore.Scope) (vectorstore.IngestResult, error) {
	return f.store("ingest", passages, scope)
}

func (f *fakeEngine) Replace(_ context.Context, passages []vectorstore.Passage, scope vectorstore.Scope) (vectorstore.IngestResult, error) {
	return f.store("replace", passages, scope)
}

// store keeps the passages past the rejected prefix. A replace drops the
// earlier version only when something was accepted.
func (f *fakeEngine) store(call string, passages []vectorstore.Passage, scope vectorstore.Scope) (vectorstore.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.ingestErr != nil {
		return vectorstore.IngestResult{}, f.ingestErr
	}
	rejected := min(f.reject, len(passages))
	kept := passages[rejected:]
	if call == "replace" && len(kept) > 0 {
		delete(f.ingested, kept[0].DocumentID)
	}
	for _, p := range kept {
		f.ingested[p.DocumentID] = append(f.ingested[p.DocumentID], p)
		f.scopes[p.DocumentID] = scope
	}
	return vectorstore.IngestResult{Accepted: len(kept), Rejected: rejected}, nil
}

func (f *fakeEngine) DeleteDocument(_ context.Context, id string) (vectorstore.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete")
	f.deleted = append(f.deleted, id)
	n := len(f.ingested[id])
	delete(f.ingested, id)
	return vectorstore.DeleteResult{Removed: n}, nil
}

func (f *fakeEngine) passages(id string) []vectorstore.Passage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vectorstore.Passage(nil), f.ingested[id]...)
}

func (f *fakeEngine) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func newTestPipeline(engine Engine, tasks *Tasks) *Pipeline {
	return NewPipeline(engine, tasks, Config{
		ChunkSize:      100,
		ChunkOverlap:   20,
		MaxUploadBytes: 1024,
	}, WithClock(func() time.Time { return testTime }))
}

func personalScope(t *testing.T, id string) vectorstore.Scope {
	t.Helper()
	s, err := vectorstore.Personal(id)
	require.NoError(t, err)
	return s
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Default().Ingest)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, 150, cfg.ChunkOverlap)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadBytes)
	assert.Contains(t, cfg.AllowedExtensions, ".md")
}

func TestPipeline_Validate(t *testing.T) {
	p := newTestPipeline(newFakeEngine(), nil)
	valid := Upload{Filename: "a.txt", Content: []byte("hello"), Scope: vectorstore.Global()}

	tests := []struct {
		name   string
		modify func(u *Upload)
		want   error
	}{
		{"valid", func(*Upload) {}, nil},
		{"missing filename", func(u *Upload) { u.Filename = " " }, ErrMissingFilename},
		{"bad extension", func(u *Upload) { u.Filename = "a.exe" }, ErrUnsupportedType},
		{"too large", func(u *Upload) { u.Content = []byte(strings.Repeat("a", 1025)) }, ErrTooLarge},
		{"empty", func(u *Upload) { u.Content = []byte("  \n") }, ErrEmptyDocument},
		{"zero scope", func(u *Upload) { u.Scope = vectorstore.Scope{} }, vectorstore.ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := valid
			tt.modify(&u)
			err := p.Validate(u)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPipeline_Process(t *testing.T) {
	engine := newFakeEngine()
	p := newTestPipeline(engine, nil)
	s1 := personalScope(t, "S1")

	res, err := p.Process(context.Background(), Upload{
		DocumentID: "doc-1",
		Filename:   "notes.md",
		Content:    []byte("# Travel\n\nMy travel plans for the summer. Flights are booked.\n\n# Budget\n\nKeep it under budget."),
		Scope:      s1,
		UploadedBy: "alice",
		Tags:       []string{" trip ", "", "summer"},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.Accepted)

	stored := engine.passages("doc-1")
	require.Len(t, stored, 2)
	assert.Equal(t, s1, engine.scopes["doc-1"])

	meta := stored[0].Metadata
	assert.Equal(t, "notes.md", meta[vectorstore.MetaFilename])
	assert.Equal(t, ".md", meta[vectorstore.MetaExtension])
	assert.Equal(t, "alice", meta[vectorstore.MetaUploadedBy])
	assert.Equal(t, "2025-03-10T09:00:00Z", meta[vectorstore.MetaUploadedAt])
	assert.Equal(t, []string{"trip", "summer"}, meta[vectorstore.MetaTags])
	assert.Equal(t, "Travel", meta[vectorstore.MetaSection])
	assert.Equal(t, "Budget", stored[1].Metadata[vectorstore.MetaSection])
	assert.Equal(t, 1, stored[1].Seq)
}

func TestPipeline_ProcessGeneratesID(t *testing.T) {
	p := newTestPipeline(newFakeEngine(), nil)
	res, err := p.Process(context.Background(), Upload{Filename: "a.txt", Content: []byte("Hello."), Scope: vectorstore.Global()})
	require.NoError(t, err)
	assert.Len(t, res.DocumentID, 36)
}

func TestPipeline_ProcessReplace(t *testing.T) {
	engine := newFakeEngine()
	p := newTestPipeline(engine, nil)
	u := Upload{DocumentID: "doc", Filename: "a.txt", Content: []byte("Version one."), Scope: vectorstore.Global(), Replace: true}

	_, err := p.Process(context.Background(), u)
	require.NoError(t, err)
	u.Content = []byte("Version two.")
	_, err = p.Process(context.Background(), u)
	require.NoError(t, err)

	assert.Equal(t, []string{"replace", "replace"}, engine.calls)
	assert.Empty(t, engine.deletedIDs())
	stored := engine.passages("doc")
	require.Len(t, stored, 1)
	assert.Equal(t, "Version two.", stored[0].Content)
}

// switchEmbedder fails every call while off is set.
type switchEmbedder struct {
	mu  sync.Mutex
	off bool
}

func (s *switchEmbedder) setOff(off bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.off = off
}

func (s *switchEmbedder) vector(text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.off {
		return nil, errors.New("embedding backend down")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (s *switchEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.vector(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *switchEmbedder) EmbedPassage(_ context.Context, text string) ([]float32, error) {
	return s.vector(text)
}

func (s *switchEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return s.vector(text)
}

func (s *switchEmbedder) ModelID() string { return "switch" }

func TestPipeline_ReplaceKeepsOldVersionWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	emb := &switchEmbedder{}
	engine, err := vectorstore.New(ctx, emb, vectorstore.Config{})
	require.NoError(t, err)
	p := newTestPipeline(engine, nil)
	u := Upload{DocumentID: "policy", Filename: "policy.txt", Content: []byte("Badges are required."), Scope: vectorstore.Global(), Replace: true}

	_, err = p.Process(ctx, u)
	require.NoError(t, err)

	emb.setOff(true)
	u.Content = []byte("Badges are optional.")
	_, err = p.Process(ctx, u)
	require.ErrorIs(t, err, ErrNothingIndexed)

	got, err := engine.GetByDocument(ctx, "policy", vectorstore.Global())
	require.NoError(t, err)
	require.Len(t, got.Passages, 1)
	assert.Equal(t, "Badges are required.", got.Passages[0].Content)

	emb.setOff(false)
	_, err = p.Process(ctx, u)
	require.NoError(t, err)
	got, err = engine.GetByDocument(ctx, "policy", vectorstore.Global())
	require.NoError(t, err)
	require.Len(t, got.Passages, 1)
	assert.Equal(t, "Badges are optional.", got.Passages[0].Content)
}

func TestPipeline_ProcessFailures(t *testing.T) {
	t.Run("nothing indexed", func(t *testing.T) {
		engine := newFakeEngine()
		engine.reject = 10
		res, err := newTestPipeline(engine, nil).Process(context.Background(),
			Upload{Filename: "a.txt", Content: []byte("Hello."), Scope: vectorstore.Global()})
		assert.ErrorIs(t, err, ErrNothingIndexed)
		assert.Equal(t, 1, res.Rejected)
	})

	t.Run("engine error", func(t *testing.T) {
		engine := newFakeEngine()
		engine.ingestErr = vectorstore.ErrPersistence
		_, err := newTestPipeline(engine, nil).Process(context.Background(),
			Upload{Filename: "a.txt", Content: []byte("Hello."), Scope: vectorstore.Global()})
		assert.ErrorIs(t, err, vectorstore.ErrPersistence)
	})

	t.Run("extraction error", func(t *testing.T) {
		_, err := newTestPipeline(newFakeEngine(), nil).Process(context.Background(),
			Upload{Filename: "a.txt", Content: []byte{0xff, 0xfe}, Scope: vectorstore.Global()})
		assert.ErrorIs(t, err, ErrNotText)
	})
}

func TestPipeline_Submit(t *testing.T) {
	engine := newFakeEngine()
	tasks := NewTasks()
	p := newTestPipeline(engine, tasks)

	task, err := p.Submit(context.Background(), Upload{
		Filename: "policy.txt",
		Content:  []byte("Reset your password every 90 days."),
		Scope:    vectorstore.Global(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.Equal(t, "global", task.Scope)
	require.NotEmpty(t, task.DocumentID)

	p.Wait()

	got, err := tasks.Get(task.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, got.Status)
	assert.Equal(t, 1, got.Chunks)
	assert.Equal(t, 1, got.Accepted)
	assert.Len(t, engine.passages(task.DocumentID), 1)
}

func TestPipeline_SubmitDetachedFromRequest(t *testing.T) {
	tasks := NewTasks()
	p := newTestPipeline(newFakeEngine(), tasks)

	ctx, cancel := context.WithCancel(context.Background())
	task, err := p.Submit(ctx, Upload{Filename: "a.txt", Content: []byte("Hello."), Scope: vectorstore.Global()})
	require.NoError(t, err)
	cancel()
	p.Wait()

	got, err := tasks.Get(task.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, got.Status)
}

func TestPipeline_SubmitFailureRecorded(t *testing.T) {
	engine := newFakeEngine()
	engine.ingestErr = errors.New("disk full")
	tasks := NewTasks()
	p := newTestPipeline(engine, tasks)

	task, err := p.Submit(context.Background(), Upload{Filename: "a.txt", Content: []byte("Hello."), Scope: vectorstore.Global()})
	require.NoError(t, err)
	p.Wait()

	got, err := tasks.Get(task.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Contains(t, got.Error, "disk full")
}

func TestPipeline_SubmitRejectsInvalid(t *testing.T) {
	tasks := NewTasks()
	p := newTestPipeline(newFakeEngine(), tasks)

	_, err := p.Submit(context.Background(), Upload{Filename: "a.pdf", Content: []byte("x"), Scope: vectorstore.Global()})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Empty(t, tasks.tasks)
}
