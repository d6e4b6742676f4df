package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/answer"
	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/persist"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Registry holds the services built from one configuration.
type Registry struct {
	cfg      *config.Config
	logger   *logging.Logger
	embedder vectorstore.Embedder
	engine   *vectorstore.Engine
	tasks    *ingest.Tasks
	pipeline *ingest.Pipeline
	answerer *answer.Synthesizer
	auth     *auth.Authenticator
	nc       *nats.Conn

	closers []func() error
}

// Option customizes Build.
type Option func(*options)

type options struct {
	embedder vectorstore.Embedder
	tracer   trace.Tracer
	noEvents bool
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e vectorstore.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithTracer sets the tracer handed to the engine.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithoutEvents skips the NATS connection even when one is configured.
// The CLI uses it for one-shot commands.
func WithoutEvents() Option {
	return func(o *options) { o.noEvents = true }
}

// Build creates every service. An unreachable embedding provider is not
// an error: the engine starts degraded and the reason is logged. A store
// or event bus that cannot be opened is.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (_ *Registry, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	r.embedder = o.embedder
	if r.embedder == nil {
		provider, perr := embeddings.Open(ctx, embeddings.ProviderConfigFrom(cfg.Embeddings), logger.Underlying())
		if perr != nil {
			logger.Warn(ctx, "embedding provider unavailable, starting degraded",
				zap.String("provider", cfg.Embeddings.Provider),
				zap.String("model", cfg.Embeddings.Model),
				zap.Error(perr))
		}
		r.embedder = provider
		r.closers = append(r.closers, provider.Close)
	}

	store, err := persist.New(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}

	engineOpts := []vectorstore.Option{vectorstore.WithLogger(logger)}
	if store != nil {
		engineOpts = append(engineOpts, vectorstore.WithPersister(store))
	}
	if o.tracer != nil {
		engineOpts = append(engineOpts, vectorstore.WithTracer(o.tracer))
	}
	r.engine, err = vectorstore.New(ctx, r.embedder, vectorstore.Config{
		SessionTTL: cfg.Session.TTL.Duration(),
	}, engineOpts...)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	r.closers = append(r.closers, r.engine.Close)

	taskOpts := []ingest.TasksOption{ingest.WithTasksLogger(logger)}
	if cfg.Events.NATSURL != "" && !o.noEvents {
		r.nc, err = ingest.ConnectNATS(cfg.Events.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() error { r.nc.Close(); return nil })
		taskOpts = append(taskOpts, ingest.WithPublisher(ingest.NewNATSPublisher(r.nc, cfg.Events.SubjectPrefix)))
	}
	r.tasks = ingest.NewTasks(taskOpts...)
	r.pipeline = ingest.NewPipeline(r.engine, r.tasks, ingest.ConfigFrom(cfg.Ingest), ingest.WithLogger(logger))
	r.closers = append(r.closers, func() error { r.pipeline.Wait(); return nil })

	if cfg.Answer.Enabled {
		r.answerer, err = answer.New(answer.ConfigFrom(cfg.Answer), answer.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("configuring answer synthesis: %w", err)
		}
	} else {
		r.answerer = answer.NewExtractive(answer.WithLogger(logger))
	}

	r.auth, err = auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("configuring auth: %w", err)
	}
	if r.auth.Ephemeral() {
		logger.Warn(ctx, "auth.jwt_secret not set, tokens will not survive a restart")
	}

	logger.Info(ctx, "services ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("model", r.embedder.ModelID()),
		zap.Bool("degraded", r.engine.Degraded()),
		zap.Bool("answer_model", r.answerer.HasModel()),
		zap.Bool("events", r.nc != nil))
	return r, nil
}

func (r *Registry) Config() *config.Config         { return r.cfg }
func (r *Registry) Logger() *logging.Logger        { return r.logger }
func (r *Registry) Engine() *vectorstore.Engine    { return r.engine }
func (r *Registry) Tasks() *ingest.Tasks           { return r.tasks }
func (r *Registry) Pipeline() *ingest.Pipeline     { return r.pipeline }
func (r *Registry) Answerer() *answer.Synthesizer  { return r.answerer }
func (r *Registry) Auth() *auth.Authenticator      { return r.auth }
func (r *Registry) NATS() *nats.Conn               { return r.nc }
func (r *Registry) Embedder() vectorstore.Embedder { return r.embedder }

// NewWatcher creates the inbox watcher for ingest.watch_dir. It returns nil
// when no directory is configured.
func (r *Registry) NewWatcher() (*ingest.Watcher, error) {
	dir := r.cfg.Ingest.WatchDir
	if dir == "" {
		return nil, nil
	}
	w, err := ingest.NewWatcher(config.ExpandPath(dir), r.pipeline, r.logger)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return w, nil
}

// Close waits for in-flight ingestion and releases every service in
// reverse build order.
func (r *Registry) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
