package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/answer"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Engine is the part of the retrieval engine the tools call.
type Engine interface {
	SearchSimilar(ctx context.Context, req vectorstore.SearchRequest) (*vectorstore.SearchResponse, error)
	GetByDocument(ctx context.Context, documentID string, scope vectorstore.Scope) (*vectorstore.DocumentPassages, error)
	ListDocuments(ctx context.Context, f vectorstore.ListFilter) []vectorstore.DocumentInfo
	Stats(ctx context.Context) vectorstore.Stats
}

// Answerer synthesizes a reply from ranked passages.
type Answerer interface {
	Answer(ctx context.Context, question string, sources []vectorstore.SearchResult) answer.Answer
}

// Server serves the ragd tools over MCP.
type Server struct {
	mcp          *mcp.Server
	engine       Engine
	answerer     Answerer
	sessionID    string
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// SessionID is the Personal scope searched when a call names none.
	SessionID string

	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragd",
		Version: "dev",
		Logger:  logging.Nop(),
	}
}

// NewServer creates an MCP server over the engine. A nil answerer falls back
// to keyword extraction.
func NewServer(cfg *Config, engine Engine, answerer Answerer) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if answerer == nil {
		answerer = answer.NewExtractive()
	}
	if cfg.Name == "" {
		cfg.Name = "ragd"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		engine:       engine,
		answerer:     answerer,
		sessionID:    cfg.SessionID,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(logger),
		logger:       logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Registry returns the metadata of every registered tool.
func (s *Server) Registry() *ToolRegistry {
	return s.toolRegistry
}

// Run serves on the stdio transport until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport",
		zap.Int("tools", s.toolRegistry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session over the given transport. It is used with
// in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
