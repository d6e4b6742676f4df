package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Engine is the part of the vector store the pipeline writes to.
type Engine interface {
	Ingest(ctx context.Context, passages []vectorstore.Passage, scope vectorstore.Scope) (vectorstore.IngestResult, error)
	Replace(ctx context.Context, passages []vectorstore.Passage, scope vectorstore.Scope) (vectorstore.IngestResult, error)
	DeleteDocument(ctx context.Context, documentID string) (vectorstore.DeleteResult, error)
}

// Config bounds uploads and sizes passages.
type Config struct {
	ChunkSize         int
	ChunkOverlap      int
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// ConfigFrom converts the ingest config section.
func ConfigFrom(c config.IngestConfig) Config {
	return Config{
		ChunkSize:         c.ChunkSize,
		ChunkOverlap:      c.ChunkOverlap,
		MaxUploadBytes:    c.MaxUploadBytes,
		AllowedExtensions: c.AllowedExtensions,
	}
}

// Upload is one document to ingest.
type Upload struct {
	// DocumentID is generated when empty.
	DocumentID string
	Filename   string
	Content    []byte
	Scope      vectorstore.Scope
	UploadedBy string
	Tags       []string
	// Replace swaps out any earlier passages of DocumentID once the new
	// version has been embedded.
	Replace bool
}

// Result summarizes a processed document.
type Result struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunk_count"`
	Accepted   int    `json:"accepted"`
	Rejected   int    `json:"rejected"`
}

// Pipeline validates, extracts, chunks and stores uploads.
type Pipeline struct {
	engine  Engine
	tasks   *Tasks
	chunker *Chunker
	cfg     Config
	logger  *logging.Logger
	tracer  trace.Tracer
	clock   func() time.Time
	wg      sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the upload timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// NewPipeline creates a pipeline. tasks may be nil when only Process is used.
func NewPipeline(engine Engine, tasks *Tasks, cfg Config, opts ...Option) *Pipeline {
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultAllowedExtensions
	}
	if tasks == nil {
		tasks = NewTasks()
	}
	p := &Pipeline{
		engine:  engine,
		tasks:   tasks,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:     cfg,
		logger:  logging.Nop(),
		tracer:  otel.Tracer("ragd.ingest"),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tasks returns the status registry.
func (p *Pipeline) Tasks() *Tasks { return p.tasks }

// AllowedExtensions returns the accepted file extensions.
func (p *Pipeline) AllowedExtensions() []string { return p.cfg.AllowedExtensions }

// Validate checks an upload before any work is scheduled.
func (p *Pipeline) Validate(u Upload) error {
	if strings.TrimSpace(u.Filename) == "" {
		return ErrMissingFilename
	}
	if !ExtensionAllowed(u.Filename, p.cfg.AllowedExtensions) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedType,
			Extension(u.Filename), strings.Join(p.cfg.AllowedExtensions, ", "))
	}
	if p.cfg.MaxUploadBytes > 0 && int64(len(u.Content)) > p.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(u.Content), p.cfg.MaxUploadBytes)
	}
	if len(strings.TrimSpace(string(u.Content))) == 0 {
		return ErrEmptyDocument
	}
	if !u.Scope.Valid() {
		if u.Scope.Kind() == vectorstore.ScopePersonal {
			return vectorstore.ErrMissingSession
		}
		return vectorstore.ErrInvalidScope
	}
	return nil
}

// Submit validates u, records a processing task and ingests in the
// background. The work is detached from ctx's cancellation.
func (p *Pipeline) Submit(ctx context.Context, u Upload) (Task, error) {
	if err := p.Validate(u); err != nil {
		return Task{}, err
	}
	if u.DocumentID == "" {
		u.DocumentID = uuid.NewString()
	}

	task := p.tasks.Start(ctx, Task{
		DocumentID: u.DocumentID,
		Filename:   u.Filename,
		Scope:      u.Scope.Kind().String(),
		SessionID:  u.Scope.SessionID(),
	})

	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res, err := p.Process(bg, u)
		if err != nil {
			p.tasks.Fail(bg, u.DocumentID, res, err)
			return
		}
		p.tasks.Ready(bg, u.DocumentID, res)
	}()

	return task, nil
}

// Process ingests u synchronously.
func (p *Pipeline) Process(ctx context.Context, u Upload) (res Result, err error) {
	start := time.Now()
	if u.DocumentID == "" {
		u.DocumentID = uuid.NewString()
	}
	res.DocumentID = u.DocumentID

	ctx, span := p.tracer.Start(ctx, "ingest.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", u.DocumentID),
		attribute.String("scope", u.Scope.Kind().String()),
	)
	defer func() {
		outcome := "ready"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		DocumentsProcessed.WithLabelValues(outcome).Inc()
		ProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	if err := p.Validate(u); err != nil {
		return res, err
	}

	sections, err := Extract(u.Filename, u.Content)
	if err != nil {
		return res, err
	}
	passages := p.chunker.Chunk(sections, u.DocumentID, p.metadata(u))
	res.Chunks = len(passages)
	if len(passages) == 0 {
		return res, ErrEmptyDocument
	}

	store := p.engine.Ingest
	if u.Replace {
		store = p.engine.Replace
	}
	ir, err := store(ctx, passages, u.Scope)
	res.Accepted, res.Rejected = ir.Accepted, ir.Rejected
	if err != nil {
		return res, fmt.Errorf("storing passages: %w", err)
	}
	if ir.Accepted == 0 {
		return res, ErrNothingIndexed
	}

	p.logger.Info(ctx, "document ingested",
		zap.String("document_id", u.DocumentID),
		zap.String("filename", u.Filename),
		zap.Int("chunks", res.Chunks),
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// Wait blocks until every submitted upload has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) metadata(u Upload) map[string]any {
	meta := map[string]any{
		vectorstore.MetaFilename:   u.Filename,
		vectorstore.MetaExtension:  Extension(u.Filename),
		vectorstore.MetaUploadedAt: p.clock().UTC().Format(time.RFC3339),
	}
	if u.UploadedBy != "" {
		meta[vectorstore.MetaUploadedBy] = u.UploadedBy
	}
	if len(u.Tags) > 0 {
		tags := make([]string, 0, len(u.Tags))
		for _, t := range u.Tags {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		if len(tags) > 0 {
			meta[vectorstore.MetaTags] = tags
		}
	}
	return meta
}
