// Package answer turns ranked passages into a grounded answer.
//
// A Synthesizer asks an OpenAI-compatible chat model (through langchaingo)
// to answer from the retrieved context only. When no model is configured,
// or the model fails or times out, it falls back to extracting the
// sentences of the top passages that share keywords with the question.
package answer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// NoDocumentsMessage is returned when the search produced no passages.
const NoDocumentsMessage = "No relevant documents found. Please check that documents have been uploaded."

// DefaultTimeout bounds one model call.
const DefaultTimeout = 60 * time.Second

// maxContextPassages is how many ranked passages are given to the model.
const maxContextPassages = 3

const systemPrompt = `You are an assistant answering questions about an organization's documents.
Answer only from the provided context. If the context does not contain the answer, say so plainly.
Cite the source document when it is relevant. Be precise and concise.`

// ErrNoModel is returned by Generate when no model is configured.
var ErrNoModel = errors.New("no answer model configured")

// Config configures the model behind a Synthesizer.
type Config struct {
	BaseURL     string
	Model       string
	APIKey      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	RateLimit   float64
	Burst       int
}

// ConfigFrom converts the answer config section.
func ConfigFrom(c config.AnswerConfig) Config {
	return Config{
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		APIKey:      c.APIKey.Value(),
		Timeout:     c.Timeout.Duration(),
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		RateLimit:   c.RateLimit,
		Burst:       c.Burst,
	}
}

// Answer is a synthesized reply.
type Answer struct {
	Text string `json:"answer"`
	// Fallback is set when the text was extracted rather than generated.
	Fallback bool   `json:"fallback"`
	Model    string `json:"model,omitempty"`
}

// Synthesizer produces answers. The zero model (see NewExtractive) only
// ever uses keyword extraction.
type Synthesizer struct {
	llm         llms.Model
	model       string
	timeout     time.Duration
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
	logger      *logging.Logger
	tracer      trace.Tracer
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithModel replaces the chat model, mainly for tests.
func WithModel(m llms.Model, name string) Option {
	return func(s *Synthesizer) {
		s.llm = m
		s.model = name
	}
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewExtractive returns a Synthesizer without a model.
func NewExtractive(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		timeout: DefaultTimeout,
		logger:  logging.Nop(),
		tracer:  otel.Tracer("ragd.answer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New creates a Synthesizer backed by an OpenAI-compatible chat endpoint.
func New(cfg Config, opts ...Option) (*Synthesizer, error) {
	if cfg.Model == "" {
		return nil, errors.New("answer model required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	token := cfg.APIKey
	if token == "" {
		token = "placeholder"
	}

	clientOpts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	s := NewExtractive(append([]Option{WithModel(llm, cfg.Model), WithTimeout(cfg.Timeout)}, opts...)...)
	s.maxTokens = cfg.MaxTokens
	s.temperature = cfg.Temperature
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s, nil
}

// HasModel reports whether answers can be generated rather than extracted.
func (s *Synthesizer) HasModel() bool { return s.llm != nil }

// Answer replies to question from sources, which must be ranked best first.
// It never fails: model errors degrade to extraction.
func (s *Synthesizer) Answer(ctx context.Context, question string, sources []vectorstore.SearchResult) Answer {
	ctx, span := s.tracer.Start(ctx, "answer.Answer")
	defer span.End()
	span.SetAttributes(attribute.Int("sources", len(sources)))

	if len(sources) == 0 {
		Requests.WithLabelValues("empty").Inc()
		return Answer{Text: NoDocumentsMessage}
	}
	if s.llm == nil {
		Requests.WithLabelValues("extractive").Inc()
		return Answer{Text: Extract(question, sources), Fallback: true}
	}

	text, err := s.Generate(ctx, question, sources)
	if err != nil {
		Requests.WithLabelValues("fallback").Inc()
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("fallback", true))
		s.logger.Warn(ctx, "answer generation failed, using extraction", zap.String("model", s.model), zap.Error(err))
		return Answer{Text: Extract(question, sources), Fallback: true}
	}
	Requests.WithLabelValues("generated").Inc()
	return Answer{Text: text, Model: s.model}
}

// Generate asks the model directly, without fallback.
func (s *Synthesizer) Generate(ctx context.Context, question string, sources []vectorstore.SearchResult) (string, error) {
	if s.llm == nil {
		return "", ErrNoModel
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	callOpts := []llms.CallOption{llms.WithTemperature(s.temperature)}
	if s.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(s.maxTokens))
	}
	resp, err := s.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(question, sources)),
	}, callOpts...)
	GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", errors.New("model returned an empty answer")
	}
	return text, nil
}

func buildPrompt(question string, sources []vectorstore.SearchResult) string {
	if len(sources) > maxContextPassages {
		sources = sources[:maxContextPassages]
	}
	var b strings.Builder
	b.WriteString("Context from the documents:\n")
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Document: %s]\n%s", src.DisplayName, src.Content)
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s\n\nAnswer using only the context above.", question)
	return b.String()
}
