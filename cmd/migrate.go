package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutorstack/retrieval/internal/config"
	"github.com/tutorstack/retrieval/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}
