package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/observability"
	"github.com/jonathan/ebook-catalog/internal/types"
)

var (
	buildJSON    bool
	buildSummary bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Resolve the catalog and print it",
	Long: `Loads the manifest, probes every document's size and page count concurrently
and prints one block per entry. Documents whose metadata cannot be resolved are
listed with N/A for size and — for pages. An absent or malformed manifest prints
the empty catalog.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildJSON, "json", false, "Print entries as JSON")
	buildCmd.Flags().BoolVar(&buildSummary, "summary", false, "Print a build summary after the entries")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	state, err := buildState(cmd)
	if err != nil {
		return err
	}

	if buildJSON {
		return writeJSON(cmd, state.Entries)
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	printer.PrintCatalog(state.Entries, "")
	if buildSummary {
		printer.PrintBuildSummary(state)
	}
	return nil
}

// buildState runs one build. The empty catalog is a result, not an error.
func buildState(cmd *cobra.Command) (*catalog.State, error) {
	builder := newBuilder(cfg, logger)
	if cfg.Verbose {
		progress := observability.NewPrinter(errWriter(cmd))
		builder.OnProgress = progress.PrintProgress
	}

	state, err := builder.Refresh(cmd.Context(), catalog.NewStore())
	if err != nil && !errors.Is(err, catalog.ErrEmptyCatalog) {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	return state, nil
}

func writeJSON(cmd *cobra.Command, entries []types.DisplayEntry) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}
	return nil
}
