// Package main implements ragctl, the admin CLI for a ragd store.
//
// ragctl opens the configured store directly, so it must not run against a
// SQLite file a daemon is serving.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/services"
)

var version = "dev"

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what every command shares.
type app struct {
	configPath string
	verbose    bool
	jsonOut    bool

	// extra is appended to the services options; tests use it to swap the
	// embedder.
	extra []services.Option
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Admin CLI for a ragd store",
		Long: `ragctl inspects and changes a ragd store without going through the daemon.

Examples:
  # Show counts per scope
  ragctl stats

  # Load a handbook into the shared knowledge base
  ragctl ingest handbook.md --tags hr,policy

  # Search as a session
  ragctl search "how do I reset my password" --session 2b7c...

  # Issue a token for local testing
  ragctl token --user alice`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/ragd/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at info level to stderr")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON")

	root.AddCommand(
		newStatsCmd(a),
		newSearchCmd(a),
		newIngestCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newClearCmd(a),
		newTokenCmd(a),
	)
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.LoadWithFile(a.configPath)
}

// open builds the services against the configured store. The caller must
// Close the registry.
func (a *app) open(ctx context.Context) (*services.Registry, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lc.Format = "console"
	lc.Level = zapcore.WarnLevel
	if a.verbose {
		lc.Level = zapcore.InfoLevel
	}
	logger, err := logging.NewLoggerWithWriter(lc, os.Stderr, nil)
	if err != nil {
		return nil, err
	}

	opts := append([]services.Option{services.WithoutEvents()}, a.extra...)
	return services.Build(ctx, cfg, logger, opts...)
}

// withRegistry opens the store, runs fn and closes the store.
func (a *app) withRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg *services.Registry) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	reg, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reg.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, reg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
