// Package cmd implements the lectern command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corvidlabs/lectern/internal/log"
)

var (
	verbose  bool
	jsonLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Lectern - retrieval-augmented assistant for the robotics textbook",
	Long: `Lectern ingests the Physical AI & Humanoid Robotics textbook into a
vector index and answers questions grounded in its content, with
citations back to the source documents.

Commands:
  ingest  index a directory of markdown documents
  ask     ask a single question from the terminal
  serve   run the HTTP question-answering API`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "log in JSON format")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: jsonLogs})
}
