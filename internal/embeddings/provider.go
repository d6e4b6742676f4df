package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Provider is an engine embedder with lifecycle.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the expected embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// healthChecker is implemented by remote providers.
type healthChecker interface {
	Health(ctx context.Context) error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of "tei", "openai", "fastembed" or "none".
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string
}

// ProviderConfigFrom converts the embeddings config section.
func ProviderConfigFrom(c config.EmbeddingsConfig) ProviderConfig {
	return ProviderConfig{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey.Value(),
		Timeout:   c.Timeout.Duration(),
		RateLimit: c.RateLimit,
		Burst:     c.Burst,
		CacheDir:  c.CacheDir,
	}
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding"):
		return 1536
	case strings.Contains(m, "base"):
		return 768
	case strings.Contains(m, "large"):
		return 1024
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "tei", "":
		return NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
		}, logger)
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
		}, logger)
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		}, logger)
	case "none":
		return NewUnavailable(cfg.Model, "embeddings disabled by configuration"), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// Open creates the configured provider and checks that it is reachable. A
// configuration error yields an Unavailable provider; a remote provider that
// fails its health check is wrapped in Recovering, which keeps checking and
// starts serving once the backend comes up. In both cases the server starts
// degraded and the returned error is meant for logging.
func Open(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	p, err := NewProvider(cfg, logger)
	if err != nil {
		return unavailableFor(cfg.Model, err), err
	}
	if hc, ok := p.(healthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			return newRecovering(p, hc, err, DefaultRecheckInterval, logger), err
		}
	}
	return p, nil
}
