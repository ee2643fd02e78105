package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvidlabs/lectern/internal/app"
	"github.com/corvidlabs/lectern/internal/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <directory>",
	Short: "Index a directory of markdown documents",
	Long: `Ingest walks the given directory recursively, chunks every .md and
.mdx file by markdown heading, embeds the chunks, and upserts them
into the vector index. Re-running on an unchanged corpus is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	corpusRoot := args[0]
	if info, err := os.Stat(corpusRoot); err != nil {
		return fmt.Errorf("corpus directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("corpus path %s is not a directory", corpusRoot)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	result, err := a.NewIngestor().Run(ctx, corpusRoot)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Indexed %d documents (%d skipped, %d failed), wrote %d points in %s\n",
		result.DocsIndexed, result.DocsSkipped, result.DocsFailed,
		result.PointsWritten, result.Duration.Round(time.Millisecond))

	if result.PointsFailed > 0 {
		return fmt.Errorf("%d points failed to upsert, re-run ingest once the index recovers", result.PointsFailed)
	}
	return nil
}
