package embeddings

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRecheckInterval is the minimum time between health checks while a
// remote provider is down.
const DefaultRecheckInterval = 5 * time.Second

// Recovering wraps a remote provider that failed its startup health check.
// Until a check passes, calls fail with ErrProviderUnavailable and Degraded
// reports true. Checks run lazily on use, at most once per interval; after
// the first success every call goes straight to the provider and per-call
// failures degrade on their own.
type Recovering struct {
	inner    Provider
	checker  healthChecker
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	healthy   bool
	lastCheck time.Time
	cause     error
}

func newRecovering(p Provider, hc healthChecker, cause error, interval time.Duration, logger *zap.Logger) *Recovering {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultRecheckInterval
	}
	r := &Recovering{
		inner:    p,
		checker:  hc,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		cause:    cause,
	}
	r.lastCheck = r.now()
	return r
}

// ready reports nil once the provider has passed a health check.
func (r *Recovering) ready(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.healthy {
		return nil
	}
	now := r.now()
	if now.Sub(r.lastCheck) < r.interval {
		return unavailableErr(r.cause)
	}
	r.lastCheck = now
	if err := r.checker.Health(ctx); err != nil {
		r.cause = err
		r.logger.Debug("embedding provider still unavailable", zap.Error(err))
		return unavailableErr(err)
	}
	r.healthy = true
	r.cause = nil
	r.logger.Info("embedding provider recovered", zap.String("model", r.inner.ModelID()))
	return nil
}

func (r *Recovering) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedPassages(ctx, texts)
}

func (r *Recovering) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedPassage(ctx, text)
}

func (r *Recovering) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedQuery(ctx, text)
}

// Degraded reports whether the provider is still down. It may run a health
// check when the interval has passed.
func (r *Recovering) Degraded() bool {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return r.ready(ctx) != nil
}

func (r *Recovering) ModelID() string { return r.inner.ModelID() }
func (r *Recovering) Dimension() int  { return r.inner.Dimension() }
func (r *Recovering) Close() error    { return r.inner.Close() }
