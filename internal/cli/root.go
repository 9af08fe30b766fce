// Package cli is the ragctx command line: the API server, one-shot ingestion
// and ad-hoc queries against the configured index.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragctx/internal/app"
	"ragctx/internal/config"
	"ragctx/internal/logger"
)

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragctx",
		Short:         "Retrieval-augmented context over a captured HTML corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newIngestCommand(),
		newReindexCommand(),
		newQueryCommand(),
	)
	return root
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

type session struct {
	cfg  *config.Config
	deps *app.Dependencies
	app  *app.App
}

func (s *session) Close() {
	if err := s.deps.Close(); err != nil {
		slog.Warn("failed to release dependencies", "error", err)
	}
}

// open loads configuration, installs the process logger on logOut and wires
// the application.
func open(ctx context.Context, logOut io.Writer, opts app.BootstrapOptions) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.New(logOut, cfg.LogDebug))

	deps, err := app.Bootstrap(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}
	return &session{cfg: cfg, deps: deps, app: a}, nil
}
