// Ragd serves the multi-tenant retrieval engine over HTTP, or over MCP on
// stdio with --mcp.
//
// Configuration is read from ~/.config/ragd/config.yaml (or --config) and
// RAGD_-prefixed environment variables. See internal/config.
//
// Usage:
//
//	# Start the HTTP daemon
//	ragd
//
//	# Serve MCP tools on stdio for a local client
//	ragd --mcp --session my-session
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	httpserver "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/services"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	mcp        bool
	sessionID  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "ragd",
		Short:         "Multi-tenant RAG retrieval daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/ragd/config.yaml)")
	cmd.Flags().BoolVar(&opts.mcp, "mcp", false, "serve MCP tools on stdio instead of HTTP")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "personal session searched by MCP tools")
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	})
	return cmd
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ragd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// run loads configuration, builds every service and serves until ctx is
// cancelled:
//  1. config, telemetry and logger
//  2. services (embeddings, store, engine, ingestion, answers, auth)
//  3. the inbox watcher, when configured
//  4. HTTP, or MCP on stdio
func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	// stdout carries the MCP protocol in stdio mode.
	var logOut io.Writer
	if opts.mcp {
		logOut = os.Stderr
	}
	logger, err := newLogger(cfg, tel, logOut)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("problems", h.Problems))
	}

	reg, err := services.Build(ctx, cfg, logger, services.WithTracer(tel.Tracer("ragd")))
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn(context.Background(), "closing services", zap.Error(err))
		}
	}()

	watcher, err := reg.NewWatcher()
	if err != nil {
		return err
	}
	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer watcher.Stop()
	}

	if opts.mcp {
		return runMCP(ctx, reg, opts.sessionID)
	}
	return runHTTP(ctx, cfg, reg)
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry, w io.Writer) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if lc.Fields == nil {
		lc.Fields = map[string]string{}
	}
	if name := cfg.Observability.ServiceName; name != "" {
		lc.Fields["service"] = name
	}
	lc.Fields["version"] = version
	return logging.NewLoggerWithWriter(lc, w, tel.LoggerProvider())
}

func runMCP(ctx context.Context, reg *services.Registry, sessionID string) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:      "ragd",
		Version:   version,
		SessionID: sessionID,
		Logger:    reg.Logger(),
	}, reg.Engine(), reg.Answerer())
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	fmt.Fprintf(os.Stderr, "ragd MCP server on stdio (session %q)\n", sessionID)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runHTTP(ctx context.Context, cfg *config.Config, reg *services.Registry) error {
	logger := reg.Logger()
	srv, err := httpserver.NewServer(httpserver.Deps{
		Engine:   reg.Engine(),
		Pipeline: reg.Pipeline(),
		Answerer: reg.Answerer(),
		Auth:     reg.Auth(),
	}, logger, &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		BodyLimit: cfg.Server.BodyLimit,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
