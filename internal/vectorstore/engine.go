package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// DefaultTopK is used when a search asks for zero or fewer results.
const DefaultTopK = 3

// Embedder turns text into vectors. Implementations must be deterministic for
// a given input and model.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// degradedReporter is implemented by embedders that can run without a model.
type degradedReporter interface {
	Degraded() bool
}

// Config holds engine settings.
type Config struct {
	SessionTTL   time.Duration
	DefaultTopK  int
	QueryLogSize int
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.QueryLogSize <= 0 {
		c.QueryLogSize = DefaultQueryLogSize
	}
}

// Engine is the retrieval engine: scoped ingestion, similarity search with
// provenance, lifecycle management and write-through persistence.
type Engine struct {
	cfg       Config
	store     *Store
	embedder  Embedder
	persister Persister
	queryLog  *QueryLog
	logger    *logging.Logger
	tracer    trace.Tracer
	clock     func() time.Time

	// persistMu orders writes to the persister so the last write of a
	// partition always reflects its latest in-memory state.
	persistMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithPersister enables write-through persistence and restores from it in New.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now, for tests that need to move time.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine. When a persister is configured its snapshot is
// loaded and sessions that expired while the process was down are dropped.
func New(ctx context.Context, embedder Embedder, cfg Config, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	cfg.ApplyDefaults()

	e := &Engine{
		cfg:      cfg,
		embedder: embedder,
		queryLog: NewQueryLog(cfg.QueryLogSize),
		logger:   logging.Nop(),
		tracer:   otel.Tracer("ragd.vectorstore"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.store = newStore(cfg.SessionTTL, e.clock)

	if e.persister != nil {
		snap, err := e.persister.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: loading snapshot: %v", ErrPersistence, err)
		}
		if snap != nil {
			dropped, mismatched := e.store.restore(snap)
			if mismatched > 0 {
				PassagesRejected.WithLabelValues("dimension").Add(float64(mismatched))
				e.logger.Warn(ctx, "dropping restored passages with mismatched dimension",
					zap.Int("count", mismatched), zap.Int("dimension", e.store.Dimension()))
			}
			for _, id := range dropped {
				if err := e.persister.DeleteSession(ctx, id); err != nil {
					e.logger.Warn(ctx, "failed to delete expired session", zap.String("session_id", id), zap.Error(err))
				}
			}
			e.logger.Info(ctx, "restored passage store",
				zap.Int("dimension", e.store.Dimension()),
				zap.Int("expired_sessions_dropped", len(dropped)),
				zap.Int("dimension_mismatch_dropped", mismatched))
		}
	}
	updateStoreMetrics(e.store.counts())

	return e, nil
}

// IngestResult reports the outcome of Ingest or Replace.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	// Replaced counts earlier passages Replace removed.
	Replaced int `json:"replaced,omitempty"`
}

// Ingest embeds passages and stores them in scope. Passages that are empty or
// fail to embed are logged and skipped; only persistence failures are errors.
// A Personal ingest creates the session on first use and slides its expiry.
func (e *Engine) Ingest(ctx context.Context, passages []Passage, scope Scope) (IngestResult, error) {
	return e.ingest(ctx, passages, scope, false)
}

// Replace is Ingest for a new version of a document. The documents in
// passages are embedded first; their earlier passages are removed from every
// scope in the same critical section that stores the new ones, and only when
// at least one new passage is accepted. A rewrite that fails to embed leaves
// the previous version searchable.
func (e *Engine) Replace(ctx context.Context, passages []Passage, scope Scope) (IngestResult, error) {
	return e.ingest(ctx, passages, scope, true)
}

func (e *Engine) ingest(ctx context.Context, passages []Passage, scope Scope, replace bool) (IngestResult, error) {
	if !scope.Valid() {
		if scope.Kind() == ScopePersonal {
			return IngestResult{}, ErrMissingSession
		}
		return IngestResult{}, ErrInvalidScope
	}

	ctx = logging.WithScope(ctx, scope.Kind().String())
	ctx, span := e.tracer.Start(ctx, "vectorstore.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", scope.Kind().String()),
		attribute.Int("passages.requested", len(passages)),
		attribute.Bool("replace", replace),
	)

	var res IngestResult
	kept := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Content) == "" {
			res.Rejected++
			PassagesRejected.WithLabelValues("empty").Inc()
			e.logger.Warn(ctx, "skipping passage",
				zap.String("document_id", p.DocumentID), zap.Int("seq", p.Seq), zap.Error(ErrEmptyContent))
			continue
		}
		p.Metadata = cloneMetadata(p.Metadata)
		kept = append(kept, p)
	}

	items := e.embedPassages(ctx, kept)
	res.Rejected += len(kept) - len(items)
	if len(items) == 0 {
		span.SetAttributes(attribute.Int("passages.accepted", 0))
		return res, nil
	}

	out := e.store.put(scope, items, replace)
	res.Accepted = out.accepted
	res.Replaced = out.replaced
	for reason, n := range out.rejected {
		res.Rejected += n
		if errors.Is(reason, ErrDimensionMismatch) {
			PassagesRejected.WithLabelValues("dimension").Add(float64(n))
			e.logger.Warn(ctx, "skipping passages with mismatched dimension",
				zap.Int("count", n), zap.Int("dimension", e.store.Dimension()))
		}
	}
	if out.reaped {
		SessionsReaped.Inc()
	}
	span.SetAttributes(attribute.Int("passages.accepted", res.Accepted))

	var errs []error
	if out.dimension > 0 {
		errs = append(errs, e.persistDimension(ctx, out.dimension))
	}
	if res.Accepted > 0 {
		errs = append(errs, e.persistScopes(ctx, uniqueScopes(append(out.touched, scope))...))
	}
	updateStoreMetrics(e.store.counts())

	e.logger.Info(ctx, "passages ingested",
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected),
		zap.Int("replaced", res.Replaced),
		zap.Stringer("scope", scope))

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// embedPassages embeds in one batch, falling back to one call per passage
// when the batch fails so a single bad input only costs its own passage.
func (e *Engine) embedPassages(ctx context.Context, passages []Passage) []StoredPassage {
	if len(passages) == 0 {
		return nil
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}

	vecs, err := e.embedder.EmbedPassages(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		e.logger.Debug(ctx, "batch embedding failed, embedding individually", zap.Error(err))
		vecs = make([][]float32, len(texts))
		for i, text := range texts {
			v, err := e.embedder.EmbedPassage(ctx, text)
			if err != nil {
				PassagesRejected.WithLabelValues("embedding").Inc()
				e.logger.Warn(ctx, "skipping passage that failed to embed",
					zap.String("document_id", passages[i].DocumentID),
					zap.Int("seq", passages[i].Seq),
					zap.Error(err))
				continue
			}
			vecs[i] = v
		}
	}

	model := e.embedder.ModelID()
	items := make([]StoredPassage, 0, len(passages))
	for i, v := range vecs {
		if v == nil {
			continue
		}
		unit, err := normalize(v)
		if err != nil {
			PassagesRejected.WithLabelValues("zero_vector").Inc()
			e.logger.Warn(ctx, "skipping passage with unusable embedding",
				zap.String("document_id", passages[i].DocumentID), zap.Error(err))
			continue
		}
		items = append(items, StoredPassage{Passage: passages[i], Vector: unit, ModelID: model})
	}
	return items
}

// SearchRequest selects what SearchSimilar looks at.
type SearchRequest struct {
	Query           string `json:"query"`
	TopK            int    `json:"top_k"`
	SessionID       string `json:"session_id,omitempty"`
	IncludeGlobal   bool   `json:"include_global"`
	IncludePersonal bool   `json:"include_personal"`
}

// SearchResult is one ranked passage with provenance.
type SearchResult struct {
	PassageID   string  `json:"passage_id"`
	DocumentID  string  `json:"document_id"`
	DisplayName string  `json:"display_name"`
	Content     string  `json:"content"`
	Score       float32 `json:"score"`
	Scope       string  `json:"scope"`
	Page        int     `json:"page,omitempty"`
	Section     string  `json:"section,omitempty"`
}

// SearchResponse holds ranked results. Degraded is set when the query could
// not be embedded; Results is then empty.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
}

// SearchSimilar embeds the query and ranks passages from the selected scopes:
//
//   - Legacy when there is no session and Global is not requested.
//   - Global when IncludeGlobal is set.
//   - the session's Personal partition when IncludePersonal is set, a session
//     is given, and it is still live (it is reaped here if not).
//
// The merged pool is ranked once, so TopK applies across scopes.
func (e *Engine) SearchSimilar(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}

	start := e.clock()
	if req.SessionID != "" {
		ctx = logging.WithSessionID(ctx, req.SessionID)
	}
	ctx, span := e.tracer.Start(ctx, "vectorstore.SearchSimilar")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.Bool("include_global", req.IncludeGlobal),
		attribute.Bool("include_personal", req.IncludePersonal),
		attribute.Bool("has_session", req.SessionID != ""),
	)

	qvec, err := e.embedder.EmbedQuery(ctx, query)
	if err == nil {
		qvec, err = normalize(qvec)
	}
	if err != nil {
		SearchesTotal.WithLabelValues("degraded").Inc()
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("degraded", true))
		e.logger.Warn(ctx, "query embedding failed, returning degraded response", zap.Error(err))
		e.queryLog.Append(QueryLogEntry{Timestamp: start, Query: query, SessionID: req.SessionID, Degraded: true})
		return &SearchResponse{Results: []SearchResult{}, Degraded: true}, nil
	}

	includeLegacy := req.SessionID == "" && !req.IncludeGlobal
	personalID := ""
	if req.IncludePersonal && req.SessionID != "" {
		personalID = req.SessionID
	}

	cands, reaped := e.store.snapshot(req.IncludeGlobal, personalID, includeLegacy)
	e.afterReap(ctx, reaped)

	vectors := make([]Candidate, len(cands))
	for i, c := range cands {
		vectors[i] = Candidate{Vector: c.rec.vector, ModelID: c.rec.modelID}
	}
	hits, skipped := Search(qvec, e.embedder.ModelID(), vectors, topK)
	if skipped.Dimension > 0 {
		CandidatesSkipped.WithLabelValues("dimension").Add(float64(skipped.Dimension))
		e.logger.Warn(ctx, "skipped candidates with mismatched dimension", zap.Int("count", skipped.Dimension))
	}
	if skipped.Model > 0 {
		CandidatesSkipped.WithLabelValues("model").Add(float64(skipped.Model))
		e.logger.Debug(ctx, "skipped candidates embedded by another model", zap.Int("count", skipped.Model))
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = newSearchResult(cands[h.Index], h.Score)
	}

	e.queryLog.Append(QueryLogEntry{Timestamp: start, Query: query, SessionID: req.SessionID, ResultCount: len(results)})
	outcome := "ok"
	if len(results) == 0 {
		outcome = "empty"
	}
	SearchesTotal.WithLabelValues(outcome).Inc()
	SearchDuration.Observe(e.clock().Sub(start).Seconds())

	span.SetAttributes(
		attribute.Int("candidates", len(cands)),
		attribute.Int("results", len(results)),
	)
	span.SetStatus(codes.Ok, "")
	e.logger.Debug(ctx, "search completed", zap.Int("candidates", len(cands)), zap.Int("results", len(results)))

	return &SearchResponse{Results: results}, nil
}

func newSearchResult(c candidate, score float32) SearchResult {
	p := c.rec.passage
	name := metaString(p.Metadata, MetaFilename)
	if name == "" {
		name = "Unknown"
	}
	page, _ := metaInt(p.Metadata, MetaPage)
	return SearchResult{
		PassageID:   p.ID,
		DocumentID:  p.DocumentID,
		DisplayName: c.scope.displayPrefix() + name,
		Content:     p.Content,
		Score:       score,
		Scope:       c.scope.Kind().String(),
		Page:        page,
		Section:     metaString(p.Metadata, MetaSection),
	}
}

// DocumentPassages is the result of GetByDocument.
type DocumentPassages struct {
	DocumentID string    `json:"document_id"`
	Scope      string    `json:"scope"`
	SessionID  string    `json:"session_id,omitempty"`
	Passages   []Passage `json:"passages"`
}

// GetByDocument returns a document's passages ordered by sequence index.
// A zero scope searches Global, then every live session, then Legacy, and
// returns the first scope holding the document. An unknown document yields
// an empty result.
func (e *Engine) GetByDocument(ctx context.Context, documentID string, scope Scope) (*DocumentPassages, error) {
	passages, found, reaped := e.store.getByDocument(documentID, scope)
	e.afterReap(ctx, reaped)

	out := &DocumentPassages{DocumentID: documentID, Passages: passages}
	if out.Passages == nil {
		out.Passages = []Passage{}
	}
	if found.Valid() {
		out.Scope = found.Kind().String()
		out.SessionID = found.SessionID()
	}
	return out, nil
}

// DeleteResult reports how many passages were removed.
type DeleteResult struct {
	Removed int `json:"removed"`
}

// DeleteDocument removes a document from every scope. Deleting an unknown
// document is not an error.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) (DeleteResult, error) {
	ctx, span := e.tracer.Start(ctx, "vectorstore.DeleteDocument")
	defer span.End()

	removed, touched := e.store.deleteDocument(documentID)
	span.SetAttributes(attribute.Int("removed", removed))
	if removed == 0 {
		return DeleteResult{}, nil
	}

	err := e.persistScopes(ctx, touched...)
	updateStoreMetrics(e.store.counts())
	e.logger.Info(ctx, "document deleted", zap.String("document_id", documentID), zap.Int("removed", removed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
	}
	return DeleteResult{Removed: removed}, err
}

// ClearResult reports what Clear removed.
type ClearResult struct {
	ClearedDocuments int `json:"cleared_documents"`
	ClearedPassages  int `json:"cleared_passages"`
}

// Clear empties one scope, or everything when kind is ScopeAny. For
// ScopePersonal an empty sessionID clears every session. Clearing an empty
// scope succeeds with zero counts.
func (e *Engine) Clear(ctx context.Context, kind ScopeKind, sessionID string) (ClearResult, error) {
	ctx, span := e.tracer.Start(ctx, "vectorstore.Clear")
	defer span.End()
	span.SetAttributes(attribute.String("scope", kind.String()))

	docs, passages, sessions := e.store.clear(kind, sessionID)
	res := ClearResult{ClearedDocuments: docs, ClearedPassages: passages}

	var errs []error
	if kind == ScopeAny || kind == ScopeGlobal {
		errs = append(errs, e.persistScopes(ctx, Global()))
	}
	if kind == ScopeAny || kind == ScopeLegacy {
		errs = append(errs, e.persistScopes(ctx, Legacy()))
	}
	for _, id := range sessions {
		errs = append(errs, e.deleteSession(ctx, id))
	}
	updateStoreMetrics(e.store.counts())

	e.logger.Info(ctx, "scope cleared",
		zap.String("scope", kind.String()),
		zap.Int("documents", docs),
		zap.Int("passages", passages))

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return res, err
	}
	return res, nil
}

// Stats summarizes the store.
type Stats struct {
	TotalDocuments     int                   `json:"total_documents"`
	TotalPassages      int                   `json:"total_passages"`
	Scopes             map[string]ScopeStats `json:"scopes"`
	ActiveSessions     int                   `json:"active_sessions"`
	EmbeddingDimension int                   `json:"embedding_dimension"`
	ModelID            string                `json:"model_id"`
	Degraded           bool                  `json:"degraded"`
	QueriesToday       int                   `json:"queries_today"`
}

// Stats reports counts per scope after reaping expired sessions.
func (e *Engine) Stats(ctx context.Context) Stats {
	st := e.store.stats()
	e.afterReap(ctx, st.reaped)
	updateStoreMetrics(st)

	now := e.clock()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	return Stats{
		TotalDocuments: st.global.Documents + st.personal.Documents + st.legacy.Documents,
		TotalPassages:  st.global.Passages + st.personal.Passages + st.legacy.Passages,
		Scopes: map[string]ScopeStats{
			ScopeGlobal.String():   st.global,
			ScopePersonal.String(): st.personal,
			ScopeLegacy.String():   st.legacy,
		},
		ActiveSessions:     st.sessions,
		EmbeddingDimension: st.dimension,
		ModelID:            e.embedder.ModelID(),
		Degraded:           e.Degraded(),
		QueriesToday:       e.queryLog.CountSince(midnight),
	}
}

// Degraded reports whether the embedder is running without a model.
func (e *Engine) Degraded() bool {
	if d, ok := e.embedder.(degradedReporter); ok {
		return d.Degraded()
	}
	return false
}

// Sessions lists live sessions, reaping expired ones first.
func (e *Engine) Sessions(ctx context.Context) []SessionInfo {
	infos, reaped := e.store.sessionInfos()
	e.afterReap(ctx, reaped)
	return infos
}

// SessionLive reports whether a session exists and has not expired.
func (e *Engine) SessionLive(ctx context.Context, sessionID string) bool {
	live, reaped := e.store.sessionLive(sessionID)
	if reaped {
		e.afterReap(ctx, []string{sessionID})
	}
	return live
}

// RecentQueries returns up to limit query log entries, newest first.
func (e *Engine) RecentQueries(limit int) []QueryLogEntry {
	return e.queryLog.Recent(limit)
}

// DocumentInfo summarizes one stored document.
type DocumentInfo struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Passages   int       `json:"passages"`
	Scope      string    `json:"scope"`
	SessionID  string    `json:"session_id,omitempty"`
}

// ListFilter selects documents for ListDocuments. Kind ScopeAny lists every
// scope; a SessionID narrows Personal to that session.
type ListFilter struct {
	Kind      ScopeKind
	SessionID string
}

// ListDocuments returns one entry per stored document, newest upload first.
func (e *Engine) ListDocuments(ctx context.Context, f ListFilter) []DocumentInfo {
	docs, reaped := e.store.listDocuments(f)
	e.afterReap(ctx, reaped)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	return docs
}

// Close releases the persister.
func (e *Engine) Close() error {
	if e.persister == nil {
		return nil
	}
	return e.persister.Close()
}

// afterReap records and persists lazily reaped sessions.
func (e *Engine) afterReap(ctx context.Context, reaped []string) {
	if len(reaped) == 0 {
		return
	}
	SessionsReaped.Add(float64(len(reaped)))
	for _, id := range reaped {
		e.logger.Info(ctx, "reaped expired session", zap.String("session_id", id))
		if err := e.deleteSession(ctx, id); err != nil {
			e.logger.Warn(ctx, "failed to delete reaped session", zap.String("session_id", id), zap.Error(err))
		}
	}
	updateStoreMetrics(e.store.counts())
}

// persistScopes writes the current content of each scope.
func (e *Engine) persistScopes(ctx context.Context, scopes ...Scope) error {
	if e.persister == nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	var errs []error
	for _, scope := range scopes {
		snap, ok := e.store.partitionSnapshot(scope)
		var err error
		if ok {
			err = e.persister.SavePartition(ctx, snap)
		} else {
			err = e.persister.DeleteSession(ctx, scope.SessionID())
		}
		if err != nil {
			PersistenceErrors.Inc()
			e.logger.Error(ctx, "failed to persist partition", zap.Stringer("scope", scope), zap.Error(err))
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrPersistence, scope, err))
		}
	}
	return errors.Join(errs...)
}

func uniqueScopes(scopes []Scope) []Scope {
	seen := make(map[Scope]bool, len(scopes))
	out := scopes[:0]
	for _, sc := range scopes {
		if !seen[sc] {
			seen[sc] = true
			out = append(out, sc)
		}
	}
	return out
}

func (e *Engine) deleteSession(ctx context.Context, sessionID string) error {
	if e.persister == nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	if err := e.persister.DeleteSession(ctx, sessionID); err != nil {
		PersistenceErrors.Inc()
		return fmt.Errorf("%w: session %s: %v", ErrPersistence, sessionID, err)
	}
	return nil
}

func (e *Engine) persistDimension(ctx context.Context, dim int) error {
	if e.persister == nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	if err := e.persister.SaveDimension(ctx, dim); err != nil {
		PersistenceErrors.Inc()
		return fmt.Errorf("%w: dimension: %v", ErrPersistence, err)
	}
	return nil
}
