package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newImportCmd creates the 'import' subcommand.
func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import RECORDS_JSONL",
		Short: "Ingest a records.jsonl export without crawling",
		Long: `Reads records previously exported by 'crawl' (one JSON record per line)
and runs them through normalization, entity resolution and ingestion.
Games already stored are skipped, so an export can be imported repeatedly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0])
		},
	}
}

func runImport(cmd *cobra.Command, opts *rootOptions, path string) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	defer opts.sync()

	// #nosec G304 -- the operator chooses which export to import.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	defer func() { _ = f.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, opts.logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close(context.WithoutCancel(ctx))

	s, err := a.Import(ctx, f)
	if perr := printSummary(cmd.OutOrStdout(), s); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	return nil
}
