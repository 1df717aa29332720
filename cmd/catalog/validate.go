package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/ebook-catalog/internal/fetch"
	"github.com/jonathan/ebook-catalog/internal/schemas"
)

var validateCmd = &cobra.Command{
	Use:   "validate [manifest]",
	Short: "Check a manifest against the manifest schema",
	Long: `Validates every entry of a manifest (URL or path; defaults to --manifest) and
reports each violation. The catalog itself tolerates bad entries by skipping them;
this command shows which ones would be skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	source := cfg.Manifest
	if len(args) == 1 {
		source = args[0]
	}

	var (
		body []byte
		err  error
	)
	if fetch.IsRemote(source) {
		var result *fetch.Result
		result, err = fetch.URL(cmd.Context(), source, cfg.FetchOptions())
		if result != nil {
			body = result.Body
		}
	} else {
		body, err = os.ReadFile(fetch.LocalPath(source))
	}
	if err != nil {
		return fmt.Errorf("failed to read manifest %s: %w", source, err)
	}

	if err := schemas.ValidateManifest(body); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid\n%v", source, err)
		return fmt.Errorf("manifest %s is invalid", source)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return fmt.Errorf("failed to decode manifest %s: %w", source, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid, %d entries\n", source, len(items))
	return nil
}
