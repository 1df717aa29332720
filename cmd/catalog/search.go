package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/observability"
)

var searchJSON bool

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Resolve the catalog and print entries matching a query",
	Long: `Prints the entries whose title or author contains the query, ignoring case.
An empty query ("") prints every entry.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print entries as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	state, err := buildState(cmd)
	if err != nil {
		return err
	}

	query := args[0]
	matches := catalog.Filter(state.Entries, query)

	if searchJSON {
		return writeJSON(cmd, matches)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintCatalog(matches, query)
	return nil
}
