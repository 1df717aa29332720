package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/fetch"
	"github.com/jonathan/ebook-catalog/internal/manifest"
	"github.com/jonathan/ebook-catalog/internal/server"
)

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog as a searchable web page",
	Long: `Starts an HTTP server that renders the catalog as cards with a search box.
The server starts with an empty catalog and swaps in the resolved one when the
first build completes. POST /refresh rebuilds it; --watch rebuilds whenever a
local manifest file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default 8080)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Rebuild when the local manifest file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := cfg.Port
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	srvCfg := server.Config{
		Port:         port,
		TemplatePath: cfg.Template,
	}
	if !fetch.IsRemote(cfg.Manifest) {
		srvCfg.StaticDir = filepath.Dir(fetch.LocalPath(cfg.Manifest))
	}

	srv, err := server.New(srvCfg, newBuilder(cfg, logger), catalog.NewStore(), logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go refresh(ctx, srv, "initial build")

	if serveWatch {
		go func() {
			err := manifest.Watch(ctx, cfg.Manifest, manifest.DefaultDebounce, logger, func() {
				refresh(ctx, srv, "manifest changed")
			})
			if err != nil {
				logger.Warn("manifest watch stopped", zap.Error(err))
			}
		}()
	}

	return srv.Start(ctx)
}

func refresh(ctx context.Context, srv *server.Server, reason string) {
	state, err := srv.Refresh(ctx)
	if err != nil {
		logger.Info("catalog refresh ended empty", zap.String("reason", reason), zap.Error(err))
		return
	}
	logger.Info("catalog refreshed",
		zap.String("reason", reason),
		zap.Int("entries", len(state.Entries)),
		zap.Duration("elapsed", state.Elapsed),
	)
}
