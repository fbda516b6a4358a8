package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/search"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var (
	searchLimit  int
	searchSource string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a one-shot similarity search",
	Long: `Embed the query and print the closest indexed chunks, ranked by
similarity.

Examples:
  # Top 3 results (default)
  corpusd search "how do I rotate credentials"

  # More results, restricted to one source file
  corpusd search --limit 10 --source documents/runbook.md "rotate credentials"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 3, "maximum number of results")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "restrict results to one source file")
}

func runSearch(ctx context.Context, query string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	provider, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey.Value(),
		Timeout: cfg.Embedding.Timeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}

	store, err := buildStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	svc := search.New(provider, store, cfg.VectorStore.Collection, zap.NewNop())

	var results []vectorstore.SearchResult
	if searchSource != "" {
		results = svc.SearchSource(ctx, query, searchSource, searchLimit)
	} else {
		results = svc.Search(ctx, query, searchLimit)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%.4f] %s (%s)\n", i+1, r.Score, r.Source, r.ElementType)
		fmt.Printf("   %s\n", firstLine(r.Text, 200))
	}
	return nil
}

// firstLine truncates text to a single display line.
func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
