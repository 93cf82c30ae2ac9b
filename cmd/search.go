package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tutorstack/retrieval/internal/config"
	"github.com/tutorstack/retrieval/internal/metadata"
	"github.com/tutorstack/retrieval/internal/retrieval"
)

var (
	searchUser      string
	searchMaxChunks int
	searchMinScore  float64
	searchTypes     []string
	searchExpand    bool
)

var searchCmd = &cobra.Command{
	Use:   "search [question]",
	Short: "Answer a question from a user's library",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchUser, "user", "", "user id (required)")
	searchCmd.Flags().IntVar(&searchMaxChunks, "max-chunks", 0, "result budget (default from config)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "similarity floor (default from config)")
	searchCmd.Flags().StringSliceVar(&searchTypes, "types", nil, "restrict to document types (book, presentation, notes)")
	searchCmd.Flags().BoolVar(&searchExpand, "expand", false, "rewrite the question before searching")
	_ = searchCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	var docTypes []metadata.DocType
	for _, s := range searchTypes {
		t, err := metadata.ParseDocType(s)
		if err != nil {
			return err
		}
		docTypes = append(docTypes, t)
	}

	pipe, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	query := strings.Join(args, " ")
	if searchExpand {
		query = pipe.ExpandQuery(ctx, query)
	}

	maxChunks := searchMaxChunks
	if maxChunks == 0 {
		maxChunks = cfg.SearchMaxChunks
	}
	minScore := searchMinScore
	if minScore == 0 {
		minScore = cfg.MinScore
	}

	resp, err := pipe.SearchLibrary(ctx, retrieval.Params{
		Query:         query,
		UserID:        searchUser,
		MaxChunks:     maxChunks,
		DocumentTypes: docTypes,
		MinScore:      minScore,
	})
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range resp.Sources {
			fmt.Printf("  - %s\n", s)
		}
	}
	for _, ref := range resp.References {
		fmt.Printf("  [%s] %s (%s)\n", ref.Type, ref.Title, ref.Topic)
	}
	return nil
}
