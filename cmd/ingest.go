package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aldin-datascience/tech-docs-rag/internal/app"
	"github.com/aldin-datascience/tech-docs-rag/internal/config"
	"github.com/aldin-datascience/tech-docs-rag/internal/document"
)

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-directory>...",
	Short: "Index documentation files",
	Long: `Index text or markdown files. Directories are walked recursively for
.md, .markdown and .txt files. The file path becomes the document source;
re-ingesting the same path supersedes the previous version.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (default: file name)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, paths []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	files, err := collectFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no ingestable files under %s", strings.Join(paths, ", "))
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer a.Close()

	for _, path := range files {
		text, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		title := ingestTitle
		if title == "" {
			title = filepath.Base(path)
		}

		res, err := a.Orchestrator.IngestDocument(ctx,
			document.New(path, title, contentTypeFor(path), string(text), info.ModTime()))
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}

		switch {
		case res.Unchanged:
			fmt.Printf("%s: unchanged (%d chunks)\n", path, res.ChunksIndexed)
		case res.ChunksRemoved > 0:
			fmt.Printf("%s: %s updated, %d chunks indexed, %d superseded\n",
				path, res.DocumentID, res.ChunksIndexed, res.ChunksRemoved)
		default:
			fmt.Printf("%s: %s indexed, %d chunks\n", path, res.DocumentID, res.ChunksIndexed)
		}
	}
	return nil
}

// collectFiles expands the argument list, walking directories for
// documentation files. Explicitly named files are taken as-is regardless of
// extension.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingestableExt(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", path, err)
		}
	}
	return files, nil
}

func ingestableExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	default:
		return false
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return document.ContentTypeMarkdown
	default:
		return document.ContentTypePlain
	}
}
