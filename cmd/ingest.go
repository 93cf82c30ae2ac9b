package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutorstack/retrieval/internal/config"
	"github.com/tutorstack/retrieval/internal/metadata"
)

var (
	ingestUser    string
	ingestDocID   string
	ingestDocType string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Chunk, embed and index a document for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "owning user id (required)")
	ingestCmd.Flags().StringVar(&ingestDocID, "doc-id", "", "document id (required)")
	ingestCmd.Flags().StringVar(&ingestDocType, "type", "book", "document type: book, presentation or notes")
	_ = ingestCmd.MarkFlagRequired("user")
	_ = ingestCmd.MarkFlagRequired("doc-id")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	docType, err := metadata.ParseDocType(ingestDocType)
	if err != nil {
		return err
	}

	text, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	pipe, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := pipe.IngestDocument(ctx, string(text), ingestUser, ingestDocID, docType)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %s for user %s: %d chunks, %d embedded, %d stored\n",
		ingestDocID, ingestUser, result.Chunks, result.Embedded, result.Stored)
	return nil
}
