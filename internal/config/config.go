// Package config provides configuration loading for ragd.
//
// Configuration is layered: compiled-in defaults, then an optional YAML file,
// then RAGD_-prefixed environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the complete ragd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Storage       StorageConfig       `koanf:"storage"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Answer        AnswerConfig        `koanf:"answer"`
	Auth          AuthConfig          `koanf:"auth"`
	Session       SessionConfig       `koanf:"session"`
	Ingest        IngestConfig        `koanf:"ingest"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	Backend string       `koanf:"backend"` // sqlite, qdrant or memory
	Path    string       `koanf:"path"`
	Qdrant  QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	CollectionPrefix string `koanf:"collection_prefix"`
	UseTLS           bool   `koanf:"use_tls"`
	MaxMessageSize   int    `koanf:"max_message_size"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"` // tei, openai, fastembed or none
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	CacheDir  string   `koanf:"cache_dir"`
}

// AnswerConfig holds answer synthesis configuration.
type AnswerConfig struct {
	Enabled     bool     `koanf:"enabled"`
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	Timeout     Duration `koanf:"timeout"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	RateLimit   float64  `koanf:"rate_limit"`
	Burst       int      `koanf:"burst"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret Secret   `koanf:"jwt_secret"`
	Issuer    string   `koanf:"issuer"`
	TokenTTL  Duration `koanf:"token_ttl"`
}

// SessionConfig controls Personal scope lifetimes.
type SessionConfig struct {
	TTL Duration `koanf:"ttl"`
}

// IngestConfig controls chunking and uploads.
type IngestConfig struct {
	ChunkSize         int      `koanf:"chunk_size"`
	ChunkOverlap      int      `koanf:"chunk_overlap"`
	MaxUploadBytes    int64    `koanf:"max_upload_bytes"`
	WatchDir          string   `koanf:"watch_dir"`
	AllowedExtensions []string `koanf:"allowed_extensions"`
}

// EventsConfig holds NATS settings for ingestion events. Empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool     `koanf:"enable_telemetry"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// LoggingConfig holds the subset of logger settings exposed to operators.
type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Sampling  bool   `koanf:"sampling"`
	Redaction bool   `koanf:"redaction"`
	OTEL      bool   `koanf:"otel"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			BodyLimit:       "20M",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "~/.local/share/ragd/ragd.db",
			Qdrant: QdrantConfig{
				Host:             "localhost",
				Port:             6334,
				CollectionPrefix: "ragd",
				MaxMessageSize:   50 * 1024 * 1024,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "tei",
			BaseURL:   "http://localhost:8080",
			Model:     "BAAI/bge-small-en-v1.5",
			Timeout:   Duration(10 * time.Second),
			RateLimit: 20,
			Burst:     5,
			CacheDir:  "~/.cache/ragd/models",
		},
		Answer: AnswerConfig{
			Enabled:     false,
			BaseURL:     "http://localhost:11434/v1",
			Model:       "llama3.2:1b",
			Timeout:     Duration(60 * time.Second),
			MaxTokens:   512,
			Temperature: 0.2,
			RateLimit:   2,
			Burst:       4,
		},
		Auth: AuthConfig{
			Issuer:   "ragd",
			TokenTTL: Duration(24 * time.Hour),
		},
		Session: SessionConfig{
			TTL: Duration(24 * time.Hour),
		},
		Ingest: IngestConfig{
			ChunkSize:         800,
			ChunkOverlap:      150,
			MaxUploadBytes:    10 * 1024 * 1024,
			AllowedExtensions: []string{".txt", ".md", ".markdown", ".csv", ".json", ".html"},
		},
		Events: EventsConfig{
			SubjectPrefix: "ingest",
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			ServiceName:     "ragd",
			SampleRate:      1.0,
			MetricsInterval: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Sampling:  true,
			Redaction: true,
		},
	}
}

var (
	validBackends  = []string{"sqlite", "qdrant", "memory"}
	validProviders = []string{"tei", "openai", "fastembed", "none"}
)

// Validate validates the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if !contains(validBackends, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend must be one of %v, got %q", validBackends, c.Storage.Backend))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
	}
	if c.Storage.Backend == "qdrant" {
		if c.Storage.Qdrant.Host == "" {
			errs = append(errs, errors.New("storage.qdrant.host is required for the qdrant backend"))
		}
		if c.Storage.Qdrant.Port <= 0 || c.Storage.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("storage.qdrant.port must be in 1..65535, got %d", c.Storage.Qdrant.Port))
		}
	}

	if !contains(validProviders, c.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("embeddings.provider must be one of %v, got %q", validProviders, c.Embeddings.Provider))
	}
	if c.Embeddings.Provider == "tei" || c.Embeddings.Provider == "openai" {
		if err := validateBaseURL(c.Embeddings.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("embeddings.base_url: %w", err))
		}
	}
	if c.Embeddings.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("embeddings.timeout must be positive"))
	}

	if c.Answer.Enabled {
		if err := validateBaseURL(c.Answer.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("answer.base_url: %w", err))
		}
		if c.Answer.Model == "" {
			errs = append(errs, errors.New("answer.model is required when answer synthesis is enabled"))
		}
	}

	if c.Session.TTL.Duration() <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}

	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, errors.New("ingest.chunk_size must be positive"))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap))
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("ingest.max_upload_bytes must be positive"))
	}
	for _, ext := range c.Ingest.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("ingest.allowed_extensions entry %q must start with '.'", ext))
		}
	}

	if c.Observability.EnableTelemetry && c.Observability.Endpoint == "" {
		errs = append(errs, errors.New("observability.endpoint is required when telemetry is enabled"))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// validateBaseURL rejects URLs that are not absolute http(s) URLs.
func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host must not be empty")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
