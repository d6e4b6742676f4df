package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

var policyDocs = []string{
	"The password requirement is at least 12 characters with one symbol and one number.",
	"The cafeteria is open from 8am to 3pm on weekdays.",
	"Submit expense reports within 30 days of purchase to finance.",
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(context.Background(), nil, Config{})
	require.Error(t, err)
}

func TestSearchSimilar_RanksMostRelevantFirst(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	for i, text := range policyDocs {
		_, err := e.Ingest(ctx, passages(fmt.Sprintf("doc-%d", i), []string{"policy.txt", "cafeteria.txt", "expenses.txt"}[i], text), Global())
		require.NoError(t, err)
	}

	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "What is the password requirement?", IncludeGlobal: true})
	require.NoError(t, err)
	require.False(t, resp.Degraded)
	require.Len(t, resp.Results, 3)

	top := resp.Results[0]
	assert.Equal(t, "doc-0", top.DocumentID)
	assert.Equal(t, "[GLOBAL] policy.txt", top.DisplayName)
	assert.Equal(t, "global", top.Scope)
	assert.Equal(t, 1, top.Page)
	assert.InDelta(t, 0.447, top.Score, 0.01)

	for _, other := range resp.Results[1:] {
		assert.Greater(t, top.Score, other.Score, other.DocumentID)
	}
}

func TestSearchSimilar_EmptyQuery(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SearchSimilar(context.Background(), SearchRequest{Query: "   ", IncludeGlobal: true})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchSimilar_SessionIsolation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("handbook", "handbook.md", "Vacation days accrue monthly for every employee."), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("notes-1", "notes.txt", "My vacation plan is a trip to Lisbon in June."), personal(t, "S1"))
	require.NoError(t, err)

	t.Run("owner sees personal and global", func(t *testing.T) {
		resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "vacation", SessionID: "S1", IncludeGlobal: true, IncludePersonal: true, TopK: 10})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"handbook", "notes-1"}, documentIDs(resp.Results))
		for _, r := range resp.Results {
			if r.DocumentID == "notes-1" {
				assert.Equal(t, "[PERSONAL] notes.txt", r.DisplayName)
				assert.Equal(t, "personal", r.Scope)
			}
		}
	})

	t.Run("other session sees only global", func(t *testing.T) {
		resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "vacation", SessionID: "S2", IncludeGlobal: true, IncludePersonal: true, TopK: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"handbook"}, documentIDs(resp.Results))
	})

	t.Run("personal excluded unless requested", func(t *testing.T) {
		resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "vacation", SessionID: "S1", IncludeGlobal: true, TopK: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"handbook"}, documentIDs(resp.Results))
	})

	t.Run("personal requested without session", func(t *testing.T) {
		resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "vacation", IncludeGlobal: true, IncludePersonal: true, TopK: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"handbook"}, documentIDs(resp.Results))
	})
}

func TestSearchSimilar_LegacySelection(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("old", "archive.txt", "Legacy onboarding checklist for new hires."), Legacy())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("new", "onboarding.md", "Onboarding checklist for new hires in 2025."), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("mine", "todo.txt", "Finish my onboarding checklist."), personal(t, "S1"))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SearchRequest
		want []string
	}{
		{"no session no global reads legacy", SearchRequest{}, []string{"old"}},
		{"global replaces legacy", SearchRequest{IncludeGlobal: true}, []string{"new"}},
		{"session without global skips legacy", SearchRequest{SessionID: "S1", IncludePersonal: true}, []string{"mine"}},
		{"session with global", SearchRequest{SessionID: "S1", IncludePersonal: true, IncludeGlobal: true}, []string{"new", "mine"}},
		{"session alone selects nothing", SearchRequest{SessionID: "S1"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Query = "onboarding checklist"
			req.TopK = 10
			resp, err := e.SearchSimilar(ctx, req)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, documentIDs(resp.Results))
		})
	}

	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "onboarding checklist"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "archive.txt", resp.Results[0].DisplayName, "legacy results carry no prefix")
}

func TestSearchSimilar_UnknownFilename(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, []Passage{{DocumentID: "anon", Content: "An unnamed memo about parking permits."}}, Global())
	require.NoError(t, err)

	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "parking permits", IncludeGlobal: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "[GLOBAL] Unknown", resp.Results[0].DisplayName)
	assert.Zero(t, resp.Results[0].Page)
}

func TestSearchSimilar_TopK(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("faq", "faq.md",
		"Printers are on every floor near the kitchen.",
		"The printer on floor two needs a badge.",
		"Color printing requires manager approval.",
		"Printer toner is stocked by facilities.",
		"Report printer jams to the help desk.",
	), Global())
	require.NoError(t, err)

	tests := []struct {
		topK int
		want int
	}{
		{0, DefaultTopK},
		{-1, DefaultTopK},
		{2, 2},
		{5, 5},
		{50, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("top_k=%d", tt.topK), func(t *testing.T) {
			resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "printer", TopK: tt.topK, IncludeGlobal: true})
			require.NoError(t, err)
			assert.Len(t, resp.Results, tt.want)
		})
	}
}

func TestSearchSimilar_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	for i, text := range policyDocs {
		_, err := e.Ingest(ctx, passages(fmt.Sprintf("doc-%d", i), "policy.txt", text), Global())
		require.NoError(t, err)
	}

	req := SearchRequest{Query: "expense reports and passwords", IncludeGlobal: true, TopK: 3}
	first, err := e.SearchSimilar(ctx, req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.SearchSimilar(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.Results, again.Results)
	}
}

func TestSearchSimilar_DegradedWhenQueryEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("doc", "policy.txt", policyDocs[0]), Global())
	require.NoError(t, err)
	e.embedder.set(func(h *hashEmbedder) { h.queryErr = errors.New("embedding service unreachable") })

	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "password", IncludeGlobal: true})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)

	recent := e.RecentQueries(1)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Degraded)
	assert.Equal(t, "password", recent[0].Query)
}

func TestSessionTTL_Expiry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("notes", "notes.txt", "Quarterly goals draft for my team."), personal(t, "S1"))
	require.NoError(t, err)
	require.True(t, e.SessionLive(ctx, "S1"))

	e.clock.Advance(DefaultSessionTTL + time.Second)

	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "quarterly goals", SessionID: "S1", IncludePersonal: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	st := e.Stats(ctx)
	assert.Equal(t, 0, st.ActiveSessions)
	assert.Equal(t, 0, st.Scopes["personal"].Passages)
	assert.False(t, e.SessionLive(ctx, "S1"))
}

func TestSessionTTL_ExpiresAtBoundary(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("notes", "notes.txt", "Boundary test content."), personal(t, "S1"))
	require.NoError(t, err)

	e.clock.Advance(DefaultSessionTTL - time.Nanosecond)
	assert.True(t, e.SessionLive(ctx, "S1"))

	e.clock.Advance(time.Nanosecond)
	assert.False(t, e.SessionLive(ctx, "S1"))
}

func TestSessionTTL_SlidingExpiry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	start := e.clock.Now()

	_, err := e.Ingest(ctx, passages("a", "a.txt", "First upload of the day."), personal(t, "S1"))
	require.NoError(t, err)

	e.clock.Advance(20 * time.Hour)
	_, err = e.Ingest(ctx, passages("b", "b.txt", "Second upload twenty hours later."), personal(t, "S1"))
	require.NoError(t, err)

	sessions := e.Sessions(ctx)
	require.Len(t, sessions, 1)
	assert.Equal(t, "S1", sessions[0].ID)
	assert.Equal(t, start, sessions[0].CreatedAt)
	assert.Equal(t, start.Add(44*time.Hour), sessions[0].ExpiresAt)
	assert.Equal(t, 2, sessions[0].Documents)

	// Past the original expiry, before the slid one.
	e.clock.Advance(10 * time.Hour)
	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "upload", SessionID: "S1", IncludePersonal: true, TopK: 5})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, documentIDs(resp.Results))
}

func TestSessionTTL_ReadsDoNotExtend(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("a", "a.txt", "Reading does not slide expiry."), personal(t, "S1"))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		e.clock.Advance(5 * time.Hour)
		_, err := e.SearchSimilar(ctx, SearchRequest{Query: "expiry", SessionID: "S1", IncludePersonal: true})
		require.NoError(t, err)
	}
	e.clock.Advance(4 * time.Hour)
	assert.False(t, e.SessionLive(ctx, "S1"))
}

func TestSessionTTL_WriteAfterExpiryStartsFresh(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("old", "old.txt", "Stale personal upload."), personal(t, "S1"))
	require.NoError(t, err)
	e.clock.Advance(DefaultSessionTTL)

	_, err = e.Ingest(ctx, passages("new", "new.txt", "Fresh personal upload."), personal(t, "S1"))
	require.NoError(t, err)

	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "personal upload", SessionID: "S1", IncludePersonal: true, TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, documentIDs(resp.Results))
}

func TestIngest_ScopeValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("x", "x.txt", "content"), Scope{})
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = ScopeFor(ScopePersonal, "  ")
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestIngest_SkipsEmptyAndFailedPassages(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.embedder.set(func(h *hashEmbedder) { h.failOn = "BROKEN" })

	res, err := e.Ingest(ctx, passages("doc", "doc.txt",
		"Parking is free after six.",
		"   ",
		"BROKEN passage the backend refuses.",
		"Visitors sign in at reception.",
	), Global())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Accepted: 2, Rejected: 2}, res)

	got, err := e.GetByDocument(ctx, "doc", Scope{})
	require.NoError(t, err)
	require.Len(t, got.Passages, 2)
	assert.Equal(t, 0, got.Passages[0].Seq)
	assert.Equal(t, 3, got.Passages[1].Seq)
}

func TestIngest_EmptyPassageLogsReason(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger()
	e := newTestEngine(t, WithLogger(logger.Logger))

	_, err := e.Ingest(ctx, passages("doc", "doc.txt", "Real text.", "  "), Global())
	require.NoError(t, err)

	entries := logger.FilterMessage("skipping passage").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, ErrEmptyContent.Error(), entries[0].ContextMap()["error"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["seq"])
}

func TestReplace_SwapsVersions(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	e := newTestEngine(t, WithPersister(p))

	_, err := e.Ingest(ctx, passages("policy", "policy.md", "Old rule one.", "Old rule two."), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("policy", "policy.md", "A stray personal copy."), personal(t, "S1"))
	require.NoError(t, err)

	res, err := e.Replace(ctx, passages("policy", "policy.md", "New rule."), Global())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Accepted: 1, Replaced: 3}, res)

	got, err := e.GetByDocument(ctx, "policy", Scope{})
	require.NoError(t, err)
	require.Len(t, got.Passages, 1)
	assert.Equal(t, "New rule.", got.Passages[0].Content)
	assert.Equal(t, 1, e.Stats(ctx).TotalPassages)

	saved, ok := p.partition("personal:S1")
	require.True(t, ok)
	assert.Empty(t, saved.Passages)
	global, ok := p.partition("global")
	require.True(t, ok)
	assert.Len(t, global.Passages, 1)
}

func TestReplace_FailedEmbeddingKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Replace(ctx, passages("policy", "policy.md", "Badges are required on site."), Global())
	require.NoError(t, err)

	e.embedder.set(func(h *hashEmbedder) { h.failOn = "Badges" })
	res, err := e.Replace(ctx, passages("policy", "policy.md", "Badges are optional now."), Global())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Rejected: 1}, res)

	got, err := e.GetByDocument(ctx, "policy", Global())
	require.NoError(t, err)
	require.Len(t, got.Passages, 1)
	assert.Equal(t, "Badges are required on site.", got.Passages[0].Content)

	e.embedder.set(func(h *hashEmbedder) { h.dim = 64 })
	res, err = e.Replace(ctx, passages("policy", "policy.md", "Smaller vectors."), Global())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Replaced)
	assert.Equal(t, 1, e.Stats(ctx).TotalPassages)
}

func TestIngest_AllRejectedDoesNotCreateSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	res, err := e.Ingest(ctx, passages("doc", "doc.txt", "", " "), personal(t, "S1"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Accepted)
	assert.False(t, e.SessionLive(ctx, "S1"))
}

func TestIngest_DimensionFixedByFirstVector(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("a", "a.txt", "Original dimension."), Global())
	require.NoError(t, err)
	assert.Equal(t, 256, e.Stats(ctx).EmbeddingDimension)

	e.embedder.set(func(h *hashEmbedder) { h.dim = 128 })
	res, err := e.Ingest(ctx, passages("b", "b.txt", "Smaller vectors."), Global())
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Accepted: 0, Rejected: 1}, res)

	// A query of the wrong dimension skips every candidate.
	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "original dimension", IncludeGlobal: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchSimilar_SkipsOtherModels(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("a", "a.txt", "Embedded by the first model."), Global())
	require.NoError(t, err)
	e.embedder.set(func(h *hashEmbedder) { h.model = "other-model" })
	_, err = e.Ingest(ctx, passages("b", "b.txt", "Embedded by the second model."), Global())
	require.NoError(t, err)

	resp, err := e.SearchSimilar(ctx, SearchRequest{Query: "embedded model", IncludeGlobal: true, TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, documentIDs(resp.Results))
}

func TestIngest_SameSequenceReplaces(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("doc", "doc.txt", "first version"), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("doc", "doc.txt", "second version"), Global())
	require.NoError(t, err)

	got, err := e.GetByDocument(ctx, "doc", Global())
	require.NoError(t, err)
	require.Len(t, got.Passages, 1)
	assert.Equal(t, "second version", got.Passages[0].Content)
	assert.Equal(t, 1, e.Stats(ctx).TotalPassages)
}

func TestPassageIDs_Unique(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	text := "Identical content in two scopes."
	_, err := e.Ingest(ctx, passages("doc", "doc.txt", text), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("doc", "doc.txt", text), personal(t, "S1"))
	require.NoError(t, err)

	g, err := e.GetByDocument(ctx, "doc", Global())
	require.NoError(t, err)
	p, err := e.GetByDocument(ctx, "doc", personal(t, "S1"))
	require.NoError(t, err)
	require.Len(t, g.Passages, 1)
	require.Len(t, p.Passages, 1)
	assert.NotEqual(t, g.Passages[0].ID, p.Passages[0].ID)

	firstID := g.Passages[0].ID
	_, err = e.DeleteDocument(ctx, "doc")
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("doc", "doc.txt", text), Global())
	require.NoError(t, err)

	again, err := e.GetByDocument(ctx, "doc", Global())
	require.NoError(t, err)
	require.Len(t, again.Passages, 1)
	assert.NotEqual(t, firstID, again.Passages[0].ID, "ids are never reused after deletion")
}

func TestGetByDocument(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	in := []Passage{
		{DocumentID: "guide", Content: "third", Seq: 2},
		{DocumentID: "guide", Content: "first", Seq: 0},
		{DocumentID: "guide", Content: "second", Seq: 1},
	}
	_, err := e.Ingest(ctx, in, personal(t, "S1"))
	require.NoError(t, err)

	t.Run("ordered by sequence", func(t *testing.T) {
		got, err := e.GetByDocument(ctx, "guide", Scope{})
		require.NoError(t, err)
		assert.Equal(t, "personal", got.Scope)
		assert.Equal(t, "S1", got.SessionID)
		require.Len(t, got.Passages, 3)
		for i, p := range got.Passages {
			assert.Equal(t, i, p.Seq)
			assert.NotEmpty(t, p.ID)
		}
		assert.Equal(t, "first", got.Passages[0].Content)
	})

	t.Run("unknown document", func(t *testing.T) {
		got, err := e.GetByDocument(ctx, "missing", Scope{})
		require.NoError(t, err)
		assert.Empty(t, got.Passages)
		assert.Empty(t, got.Scope)
	})

	t.Run("wrong scope", func(t *testing.T) {
		got, err := e.GetByDocument(ctx, "guide", Global())
		require.NoError(t, err)
		assert.Empty(t, got.Passages)
	})
}

func TestDeleteDocument_RemovesEverywhere(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("shared", "shared.txt", "Security badge rules.", "Badge replacement costs ten dollars."), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("shared", "shared.txt", "My badge number."), personal(t, "S1"))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("shared", "shared.txt", "Old badge policy."), Legacy())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("other", "other.txt", "Badge office hours."), Global())
	require.NoError(t, err)
	before := e.Stats(ctx).TotalPassages

	res, err := e.DeleteDocument(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Removed)
	assert.Equal(t, before-res.Removed, e.Stats(ctx).TotalPassages)

	for _, scope := range []Scope{{}, Global(), personal(t, "S1"), Legacy()} {
		got, err := e.GetByDocument(ctx, "shared", scope)
		require.NoError(t, err)
		assert.Empty(t, got.Passages, scope.String())
	}

	for _, req := range []SearchRequest{
		{IncludeGlobal: true, SessionID: "S1", IncludePersonal: true},
		{},
	} {
		req.Query = "badge"
		req.TopK = 10
		resp, err := e.SearchSimilar(ctx, req)
		require.NoError(t, err)
		assert.NotContains(t, documentIDs(resp.Results), "shared")
	}

	again, err := e.DeleteDocument(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Removed)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("g", "g.txt", "Global one.", "Global two."), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("p1", "p1.txt", "Personal one."), personal(t, "S1"))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("p2", "p2.txt", "Personal two."), personal(t, "S2"))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("l", "l.txt", "Legacy one."), Legacy())
	require.NoError(t, err)

	res, err := e.Clear(ctx, ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, ClearResult{ClearedDocuments: 1, ClearedPassages: 2}, res)

	res, err = e.Clear(ctx, ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, ClearResult{}, res, "clearing an empty scope is a no-op")

	res, err = e.Clear(ctx, ScopePersonal, "S1")
	require.NoError(t, err)
	assert.Equal(t, ClearResult{ClearedDocuments: 1, ClearedPassages: 1}, res)
	assert.False(t, e.SessionLive(ctx, "S1"))
	assert.True(t, e.SessionLive(ctx, "S2"))

	res, err = e.Clear(ctx, ScopeAny, "")
	require.NoError(t, err)
	assert.Equal(t, ClearResult{ClearedDocuments: 2, ClearedPassages: 2}, res)

	res, err = e.Clear(ctx, ScopeAny, "")
	require.NoError(t, err)
	assert.Equal(t, ClearResult{}, res)

	st := e.Stats(ctx)
	assert.Equal(t, 0, st.TotalPassages)
	assert.Equal(t, 0, st.ActiveSessions)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("g", "g.txt", "One.", "Two."), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("p", "p.txt", "Three."), personal(t, "S1"))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("l", "l.txt", "Four."), Legacy())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := e.SearchSimilar(ctx, SearchRequest{Query: "one", IncludeGlobal: true})
		require.NoError(t, err)
	}

	st := e.Stats(ctx)
	assert.Equal(t, 3, st.TotalDocuments)
	assert.Equal(t, 4, st.TotalPassages)
	assert.Equal(t, ScopeStats{Documents: 1, Passages: 2}, st.Scopes["global"])
	assert.Equal(t, ScopeStats{Documents: 1, Passages: 1}, st.Scopes["personal"])
	assert.Equal(t, ScopeStats{Documents: 1, Passages: 1}, st.Scopes["legacy"])
	assert.Equal(t, 1, st.ActiveSessions)
	assert.Equal(t, 256, st.EmbeddingDimension)
	assert.Equal(t, "hash-bow-256", st.ModelID)
	assert.False(t, st.Degraded)
	assert.Equal(t, 2, st.QueriesToday)

	e.embedder.set(func(h *hashEmbedder) { h.degraded = true })
	e.clock.Advance(24 * time.Hour)
	st = e.Stats(ctx)
	assert.True(t, st.Degraded)
	assert.Equal(t, 0, st.QueriesToday)
}

func TestListDocuments(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	base := e.clock.Now()

	ingest := func(docID string, at time.Time, scope Scope) {
		t.Helper()
		_, err := e.Ingest(ctx, []Passage{{
			DocumentID: docID,
			Content:    "Content of " + docID,
			Metadata: map[string]any{
				MetaFilename:   docID + ".txt",
				MetaUploadedBy: "alice",
				MetaUploadedAt: at.Format(time.RFC3339),
				MetaTags:       []string{"hr"},
			},
		}}, scope)
		require.NoError(t, err)
	}
	ingest("older", base.Add(-2*time.Hour), Global())
	ingest("newer", base.Add(-time.Hour), Global())
	ingest("mine", base, personal(t, "S1"))

	all := e.ListDocuments(ctx, ListFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "mine", all[0].DocumentID)
	assert.Equal(t, "newer", all[1].DocumentID)
	assert.Equal(t, "older", all[2].DocumentID)
	assert.Equal(t, "S1", all[0].SessionID)
	assert.Equal(t, []string{"hr"}, all[1].Tags)
	assert.Equal(t, "alice", all[1].UploadedBy)

	global := e.ListDocuments(ctx, ListFilter{Kind: ScopeGlobal})
	assert.Len(t, global, 2)

	other := e.ListDocuments(ctx, ListFilter{Kind: ScopePersonal, SessionID: "S2"})
	assert.Empty(t, other)
}

func TestPersistence_RestoreDropsExpiredSessions(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	e := newTestEngine(t, WithPersister(p))

	_, err := e.Ingest(ctx, passages("g", "g.txt", "Durable global passage."), Global())
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("p", "p.txt", "Short lived personal passage."), personal(t, "S1"))
	require.NoError(t, err)
	_, err = e.Ingest(ctx, passages("q", "q.txt", "Another personal passage."), personal(t, "S2"))
	require.NoError(t, err)

	_, ok := p.partition("personal:S1")
	require.True(t, ok)
	assert.Equal(t, 256, p.dimension)
	require.NoError(t, e.Close())
	assert.True(t, p.closed)

	// A write at T+12h keeps S2 alive until T+36h; S1 still expires at T+24h.
	e.clock.Advance(12 * time.Hour)
	_, err = e.Ingest(ctx, passages("q", "q.txt", "Another personal passage."), personal(t, "S2"))
	require.NoError(t, err)

	clock := newFakeClock()
	clock.Advance(25 * time.Hour)
	restored, err := New(ctx, e.embedder, Config{}, WithPersister(p), WithClock(clock.Now))
	require.NoError(t, err)

	st := restored.Stats(ctx)
	assert.Equal(t, 1, st.Scopes["global"].Passages)
	assert.Equal(t, 1, st.ActiveSessions)
	assert.Equal(t, 256, st.EmbeddingDimension)
	assert.False(t, restored.SessionLive(ctx, "S1"))
	assert.True(t, restored.SessionLive(ctx, "S2"))
	assert.Contains(t, p.deleted, "S1")

	resp, err := restored.SearchSimilar(ctx, SearchRequest{Query: "durable global", IncludeGlobal: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "g", resp.Results[0].DocumentID)
}

func TestPersistence_RestoreCountsDimensionMismatches(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	p.dimension = 256
	p.partitions["global"] = PartitionSnapshot{
		Scope: Global(),
		Passages: []StoredPassage{
			{Passage: Passage{ID: "a", DocumentID: "a", Content: "fits"}, Vector: make([]float32, 256), ModelID: "hash-bow-256"},
			{Passage: Passage{ID: "b", DocumentID: "b", Content: "too short"}, Vector: make([]float32, 8), ModelID: "hash-bow-256"},
		},
	}
	logger := logging.NewTestLogger()

	e, err := New(ctx, newHashEmbedder(), Config{}, WithPersister(p), WithLogger(logger.Logger))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Stats(ctx).TotalPassages)

	logger.AssertLogged(t, zapcore.WarnLevel, "mismatched dimension")
	entries := logger.FilterMessage("restored passage store").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["dimension_mismatch_dropped"])
}

func TestPersistence_FailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	e := newTestEngine(t, WithPersister(p))
	p.failSave = errors.New("disk full")

	res, err := e.Ingest(ctx, passages("g", "g.txt", "Written to memory only."), Global())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, e.Stats(ctx).TotalPassages)
}

func TestPersistence_ReapDeletesSession(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	e := newTestEngine(t, WithPersister(p))

	_, err := e.Ingest(ctx, passages("p", "p.txt", "Temporary."), personal(t, "S1"))
	require.NoError(t, err)

	e.clock.Advance(DefaultSessionTTL)
	e.Stats(ctx)

	_, ok := p.partition("personal:S1")
	assert.False(t, ok)
	assert.Contains(t, p.deleted, "S1")
}

func TestEngine_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ingest(ctx, passages("shared", "shared.txt", "Shared reference passage."), Global())
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("S%d", w)
			scope, _ := Personal(sessionID)
			for i := 0; i < 10; i++ {
				_, err := e.Ingest(ctx, passages(fmt.Sprintf("doc-%d-%d", w, i), "x.txt", fmt.Sprintf("Worker %d passage %d", w, i)), scope)
				assert.NoError(t, err)
				_, err = e.SearchSimilar(ctx, SearchRequest{Query: "passage", SessionID: sessionID, IncludeGlobal: true, IncludePersonal: true})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	st := e.Stats(ctx)
	assert.Equal(t, workers, st.ActiveSessions)
	assert.Equal(t, workers*10, st.Scopes["personal"].Passages)
	assert.Equal(t, 1+workers*10, st.TotalPassages)
}
