// Package cmd implements the papergent command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "papergent",
	Short: "Papergent - research assistant chat backend",
	Long: `Papergent is a chat backend for a research assistant that can
search arXiv for academic papers.

It serves a JSON API with Server-Sent Events streaming, persists
conversations in PostgreSQL, and talks to a DeepSeek model through
Genkit.

Running papergent without a subcommand starts the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
