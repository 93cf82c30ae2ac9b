// Package cmd wires the retrieval pipeline behind a small CLI used for
// operations work: ingesting documents, querying a user's library, and
// purging users.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "retrieval",
	Short: "Per-user document retrieval pipeline",
	Long: `retrieval manages the document retrieval pipeline: it chunks and
embeds uploaded documents into per-user vector collections, and answers
questions over a user's library with multi-strategy similarity search.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
