// Package cmd implements the docsrag command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docsrag",
	Short: "docsrag - retrieval-augmented assistant for technical documentation",
	Long: `docsrag indexes technical documentation into a vector search engine and
answers questions about it with grounded, cited responses.

Run 'docsrag serve' to start the HTTP API, or use 'docsrag ingest' and
'docsrag remove' to manage the index directly.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
