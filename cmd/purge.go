package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutorstack/retrieval/internal/config"
)

var purgeUser string

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete a user's vector collection and cached metadata",
	RunE:  runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&purgeUser, "user", "", "user id (required)")
	_ = purgeCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	pipe, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := pipe.PurgeUser(ctx, purgeUser); err != nil {
		return err
	}
	fmt.Printf("Purged user %s\n", purgeUser)
	return nil
}
