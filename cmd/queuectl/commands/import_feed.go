package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/booktranslator/internal/feed"
)

var (
	importCategory string
	importPriority int
	importTimeout  time.Duration
)

var importFeedCmd = &cobra.Command{
	Use:   "import-feed <file>",
	Short: "Admit crawled papers from a JSON or YAML feed",
	Long: `Reads a feed mapping crawler ids to {title, pdf_url, authors, published},
downloads each PDF and admits it as a crawled submission. Papers already in
the queue (by crawled:<id>) are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportFeed,
}

func init() {
	importFeedCmd.Flags().StringVar(&importCategory, "category", "ai_research", "category for entries that do not name one")
	importFeedCmd.Flags().IntVar(&importPriority, "priority", 0, "priority for admitted submissions")
	importFeedCmd.Flags().DurationVar(&importTimeout, "download-timeout", 2*time.Minute, "timeout for each PDF download")
	rootCmd.AddCommand(importFeedCmd)
}

func runImportFeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	entries, err := feed.Parse(args[0], data)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	manager, cfg, closeFn, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	im := feed.NewImporter(manager, &http.Client{Timeout: importTimeout}, cfg.Job.MaxUploadBytes)
	im.Category = importCategory
	im.Priority = importPriority

	fmt.Fprintf(cmd.OutOrStdout(), "Found %d papers in %s\n", len(entries), args[0])
	res, err := im.Import(ctx, entries)
	fmt.Fprintf(cmd.OutOrStdout(), "Added: %d  Skipped: %d  Failed: %d\n", res.Added, res.Skipped, res.Failed)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d papers could not be imported", res.Failed)
	}
	return nil
}

// commandContext bounds maintenance commands that only touch the database.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), time.Minute)
}
