package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aldin-datascience/tech-docs-rag/internal/app"
	"github.com/aldin-datascience/tech-docs-rag/internal/config"
	"github.com/aldin-datascience/tech-docs-rag/internal/document"
)

var removeCmd = &cobra.Command{
	Use:   "remove <source-or-id>...",
	Short: "Remove documents from the index",
	Long: `Remove documents by source path or document id. Arguments that do not
look like document ids are treated as source paths and hashed the same
way ingestion hashes them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemove(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer a.Close()

	for _, arg := range args {
		id := arg
		if !strings.HasPrefix(arg, "doc_") {
			id = document.DocumentID(arg)
		}

		res, err := a.Orchestrator.RemoveDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("removing %s: %w", arg, err)
		}
		if res.ChunksRemoved == 0 {
			fmt.Printf("%s: not indexed\n", arg)
		} else {
			fmt.Printf("%s: removed %d chunks\n", arg, res.ChunksRemoved)
		}
	}
	return nil
}
