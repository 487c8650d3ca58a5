package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// newReviewsCmd creates the 'crawl reviews' subcommand.
func newReviewsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Collect member reviews into reviews.jsonl",
		Long: `Fetches review pages start..end, at most --concurrency at a time, and
appends every review to reviews.jsonl in the report directory. Pages that
cannot be fetched are listed in broken_urls.txt. Reviews are not ingested.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.v.Set("ingest.enabled", false)
			return runReviews(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.Int("start-page", 0, "first review page (default from reviews.start_page)")
	f.Int("end-page", 0, "last review page, inclusive (default from reviews.end_page)")
	f.Int("concurrency", 0, "maximum review pages in flight (default from reviews.concurrency)")
	bindFlag(opts, cmd, "reviews.start_page", "start-page")
	bindFlag(opts, cmd, "reviews.end_page", "end-page")
	bindFlag(opts, cmd, "reviews.concurrency", "concurrency")
	return cmd
}

func runReviews(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	defer opts.sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, opts.logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close(context.WithoutCancel(ctx))

	s, err := a.CrawlReviews(ctx, catalog.Range{Start: cfg.Reviews.StartPage, End: cfg.Reviews.EndPage})
	if perr := printSummary(cmd.OutOrStdout(), s); perr != nil {
		opts.logger.Warn("print summary failed", zap.Error(perr))
	}
	if err != nil {
		return fmt.Errorf("crawl reviews: %w", err)
	}
	if s.Interrupted {
		opts.logger.Warn("review crawl interrupted", zap.Int("pages_completed", s.PagesCompleted))
	}
	return nil
}
