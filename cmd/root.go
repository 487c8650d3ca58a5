// Package cmd defines the ludostock command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/app"
	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/config"
	"github.com/JakeFAU/ludostock-crawler/internal/logging"
	"github.com/JakeFAU/ludostock-crawler/internal/report"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

// App is what the commands need from the wired services. Tests replace
// newApp to inject a fake.
type App interface {
	Crawl(ctx context.Context, rng catalog.Range) (report.Summary, error)
	Import(ctx context.Context, src io.Reader) (report.Summary, error)
	CrawlReviews(ctx context.Context, rng catalog.Range) (report.Summary, error)
	ResumeRange(ctx context.Context, rng catalog.Range) (catalog.Range, bool, error)
	Close(ctx context.Context)
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger, app.WithVersion(Version))
}

type rootOptions struct {
	cfgFile string
	v       *viper.Viper
	logger  *zap.Logger
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "ludostock",
		Short: "Crawl the trictrac board game catalogue into a relational store.",
		Long: `ludostock walks the paginated trictrac listing, extracts every game page,
normalizes its fields and upserts games with their authors, artists, editors
and distributors. Re-running over the same pages creates no duplicates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	})
	return cmd
}

// load reads the configuration and builds the logger. Flags must already be
// bound to opts.v.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.LoadWith(o.v, o.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	o.logger, err = logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(o.logger)
	return cfg, nil
}

func (o *rootOptions) sync() {
	if o.logger == nil {
		return
	}
	_ = o.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
}

func printSummary(w io.Writer, s report.Summary) error {
	if err := report.WriteCSV(w, s); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
