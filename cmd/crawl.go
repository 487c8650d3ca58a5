package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/ingest"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(opts *rootOptions) *cobra.Command {
	var noIngest, resume bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a page range and ingest every game found",
		Long: `Walks listing pages start..end in order, extracting at most --concurrency
item pages at a time, and ingests each record as it arrives. Interrupting
the command (Ctrl-C) stops dispatching new pages, ingests what was already
collected and still writes the run report. --resume continues after the last
page drained by the previous unfinished run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noIngest {
				opts.v.Set("ingest.enabled", false)
			}
			return runCrawl(cmd, opts, resume)
		},
	}
	f := cmd.Flags()
	f.Int("start-page", 0, "first listing page (default from source.start_page)")
	f.Int("end-page", 0, "last listing page, inclusive (default from source.end_page)")
	f.Int("concurrency", 0, "maximum in-flight item extractions (default from crawler.concurrency)")
	f.BoolVar(&noIngest, "no-ingest", false, "only crawl and export records, do not touch the store")
	f.BoolVar(&resume, "resume", false, "continue after the last page of the previous unfinished run")
	bindFlag(opts, cmd, "source.start_page", "start-page")
	bindFlag(opts, cmd, "source.end_page", "end-page")
	bindFlag(opts, cmd, "crawler.concurrency", "concurrency")
	cmd.AddCommand(newReviewsCmd(opts))
	return cmd
}

// bindFlag makes an explicitly set flag override key; unset flags leave the
// file and environment values alone.
func bindFlag(opts *rootOptions, cmd *cobra.Command, key, name string) {
	if err := opts.v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func runCrawl(cmd *cobra.Command, opts *rootOptions, resume bool) error {
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

	rng := catalog.Range{Start: cfg.Source.StartPage, End: cfg.Source.EndPage}
	if resume {
		next, resumed, err := a.ResumeRange(ctx, rng)
		switch {
		case errors.Is(err, ingest.ErrRunComplete):
			opts.logger.Info("nothing to resume", zap.Error(err))
			return nil
		case err != nil:
			return err
		case resumed:
			opts.logger.Info("resuming previous run", zap.Int("start_page", next.Start), zap.Int("end_page", next.End))
		}
		rng = next
	}

	s, err := a.Crawl(ctx, rng)
	if perr := printSummary(cmd.OutOrStdout(), s); perr != nil {
		opts.logger.Warn("print summary failed", zap.Error(perr))
	}
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if s.Interrupted {
		opts.logger.Warn("crawl interrupted", zap.Int("resume_page", s.ResumePage()))
	}
	return nil
}
