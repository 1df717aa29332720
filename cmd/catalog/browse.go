package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/tui"
	"github.com/jonathan/ebook-catalog/internal/types"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the catalog in an interactive terminal view",
	Long: `Opens a full-screen browser. Type to filter by title or author; every
keystroke filters the full catalog again. ctrl+r rebuilds, esc quits.

Logs go to --log-file when set and are discarded otherwise.`,
	Args: cobra.NoArgs,
	RunE: runBrowse,
}

func init() {
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, _ []string) error {
	// The terminal belongs to the browser; stderr logging would corrupt it.
	log := logger
	if logFile == "" {
		log = zap.NewNop()
	}

	builder := newBuilder(cfg, log)
	build := func(ctx context.Context) ([]types.DisplayEntry, error) {
		entries, err := builder.Build(ctx)
		if errors.Is(err, catalog.ErrEmptyCatalog) {
			return entries, nil
		}
		return entries, err
	}

	return tui.Run(cmd.Context(), build)
}
