// Package main provides the catalog CLI: build, search, serve and browse an ebook catalog.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/config"
	"github.com/jonathan/ebook-catalog/internal/logging"
	"github.com/jonathan/ebook-catalog/internal/manifest"
	"github.com/jonathan/ebook-catalog/internal/metadata"
)

var (
	configPath   string
	manifestFlag string
	verbose      bool
	probeTimeout time.Duration
	parseTimeout time.Duration
	logFile      string

	// Resolved in PersistentPreRunE.
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Ebook catalog viewer",
	Long: `catalog loads an ebook manifest, resolves each document's size and page count
concurrently, and lets you list, search, serve or browse the result.

The manifest is a JSON array of {"file", "title", "author"} objects, read from a
URL or a local path (default ebooks.json).`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a JSON or YAML config file")
	flags.StringVarP(&manifestFlag, "manifest", "m", "", "Manifest URL or path (default ebooks.json)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.DurationVar(&probeTimeout, "probe-timeout", metadata.DefaultProbeTimeout, "Size probe timeout per document")
	flags.DurationVar(&parseTimeout, "parse-timeout", metadata.DefaultParseTimeout, "Page-count timeout per document")
	flags.StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}

// setup resolves configuration (file, then environment, then flags) and builds the logger.
func setup(cmd *cobra.Command, _ []string) error {
	resolved, err := config.Resolve(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("manifest") {
		resolved.Manifest = manifestFlag
	}
	if flags.Changed("probe-timeout") {
		resolved.ProbeTimeout = config.Duration(probeTimeout)
	}
	if flags.Changed("parse-timeout") {
		resolved.ParseTimeout = config.Duration(parseTimeout)
	}
	if flags.Changed("verbose") {
		resolved.Verbose = verbose
	}
	if err := resolved.Validate(); err != nil {
		return err
	}
	if resolved.ProbeTimeout <= 0 || resolved.ParseTimeout <= 0 {
		return fmt.Errorf("config error: timeouts must be positive")
	}
	cfg = resolved

	var outputs []string
	if logFile != "" {
		outputs = append(outputs, logFile)
	}
	logger, err = logging.New(cfg.Verbose, outputs...)
	if err != nil {
		return err
	}
	return nil
}

// newBuilder wires the loader and resolver for the configured manifest.
func newBuilder(c config.Config, log *zap.Logger) *catalog.Builder {
	opts := c.FetchOptions()
	loader := manifest.NewLoader(c.Manifest, opts, log)

	resolver := metadata.NewResolver(c.Manifest, opts, log)
	resolver.ProbeTimeout = c.ProbeTimeout.Std()
	resolver.ParseTimeout = c.ParseTimeout.Std()

	return catalog.NewBuilder(loader, resolver, log)
}

// errWriter returns the command's stderr, for progress output.
func errWriter(cmd *cobra.Command) io.Writer {
	return cmd.ErrOrStderr()
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
