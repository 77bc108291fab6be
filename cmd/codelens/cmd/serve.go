package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/internal/httpapi"
	"github.com/codelens-ai/codelens/internal/mcp"
	"github.com/codelens-ai/codelens/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var transport string
	var addr string
	var watchPaths []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CodeLens server",
		Long: `Serve the question-answering engine.

With --transport http (the default) the HTTP API listens on the
configured address. With --transport stdio the analysis tools are
exposed over the MCP stdio protocol for AI coding assistants.

--watch keeps watched repositories in sync: file changes are coalesced
and re-ingested incrementally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), transport, addr, watchPaths)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "http", "Transport: http or stdio")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "Repository paths to watch for changes")
	return cmd
}

func runServe(ctx context.Context, transport, addr string, watchPaths []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.startAnalyzers(ctx)

	if len(watchPaths) > 0 {
		if err := startWatching(ctx, a, watchPaths, logger); err != nil {
			return err
		}
	}

	switch transport {
	case "stdio":
		srv, err := mcp.NewServer(a.handler, logger)
		if err != nil {
			return err
		}
		return srv.Serve(ctx, "stdio")
	case "http":
		srv, err := httpapi.NewServer(httpapi.Config{
			Engine:   a.engine,
			Handler:  a.handler,
			Pipeline: a.pipeline,
			Store:    a.store,
			LLM:      a.llm,
			Metrics:  a.metrics,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if addr == "" {
			addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		}
		logger.Info("http server listening", "addr", addr)
		return srv.ListenAndServe(ctx, addr)
	default:
		return fmt.Errorf("unsupported transport %q (want http or stdio)", transport)
	}
}

// startWatching re-ingests a watched repository whenever a change batch
// touches it.
func startWatching(ctx context.Context, a *app, paths []string, logger *slog.Logger) error {
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		roots = append(roots, abs)
	}

	w, err := watcher.New(watcher.Options{}, func(events []watcher.FileEvent) {
		touched := make(map[string]bool)
		for _, ev := range events {
			for _, root := range roots {
				if strings.HasPrefix(ev.Path, root+string(filepath.Separator)) || ev.Path == root {
					touched[root] = true
				}
			}
		}
		for root := range touched {
			if _, err := a.pipeline.Run(ctx, root, true); err != nil {
				logger.Warn("incremental re-ingestion failed", "root", root, "error", err)
			}
		}
	}, nil)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := w.Watch(root); err != nil {
			return err
		}
		logger.Info("watching repository", "root", root)
	}
	go w.Run(ctx)
	return nil
}
