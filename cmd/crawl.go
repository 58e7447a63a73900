// -- cmd/crawl.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sec-bihar/candidate-crawler/internal/browser"
	"github.com/sec-bihar/candidate-crawler/internal/config"
	"github.com/sec-bihar/candidate-crawler/internal/crawler"
	"github.com/sec-bihar/candidate-crawler/internal/download"
	"github.com/sec-bihar/candidate-crawler/internal/extract"
	"github.com/sec-bihar/candidate-crawler/internal/observability"
	"github.com/sec-bihar/candidate-crawler/internal/portal"
	"github.com/sec-bihar/candidate-crawler/internal/sink"
)

// newCrawlCmd creates and configures the `crawl` command.
func newCrawlCmd() *cobra.Command {
	crawlCmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the full district × post crawl against the results portal",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("crawl.output_file", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			if err := viper.BindPFlag("crawl.download_dir", cmd.Flags().Lookup("downloads")); err != nil {
				return err
			}
			if err := viper.BindPFlag("crawl.schema", cmd.Flags().Lookup("schema")); err != nil {
				return err
			}
			if err := viper.BindPFlag("crawl.refresh_posts", cmd.Flags().Lookup("refresh-posts")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless"))
		},
		RunE: runCrawl,
	}

	crawlCmd.Flags().StringP("output", "o", "", "Output CSV path. (Overrides config/env)")
	crawlCmd.Flags().String("downloads", "", "Directory for downloaded documents. (Overrides config/env)")
	crawlCmd.Flags().String("schema", "", "Record schema: 'minimal' or 'extended'. (Overrides config/env)")
	crawlCmd.Flags().Bool("refresh-posts", true, "Re-read post options after each district selection.")
	crawlCmd.Flags().Bool("headless", true, "Run the browser headless; set to false to watch the crawl.")

	return crawlCmd
}

func init() {
	rootCmd.AddCommand(newCrawlCmd())
}

// runCrawl wires the components together, runs the crawl, and guarantees
// teardown of the browser session on both the success and the fatal path.
func runCrawl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	schema, err := extract.ParseVariant(cfg.Crawl.Schema)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	logger = logger.With(zap.String("runID", runID))
	logger.Info("Starting crawl run",
		zap.String("schema", schema.String()),
		zap.String("output", cfg.Crawl.OutputFile),
		zap.String("download_dir", cfg.Crawl.DownloadDir),
	)

	if err := os.MkdirAll(cfg.Crawl.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	// The sink is bootstrapped with the schema header before the browser
	// launches; a header mismatch should fail fast, not mid-run.
	csvSink, err := sink.NewCSV(cfg.Crawl.OutputFile, schema.Header())
	if err != nil {
		return err
	}

	manager, err := browser.NewManager(ctx, logger, cfg.Browser)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	tabCtx, cancelTab := manager.NewTab()
	session, err := portal.NewSession(tabCtx, cancelTab, logger, cfg.Portal, cfg.Browser.NavigationTimeout, cfg.Crawl.DownloadDir)
	if err != nil {
		cancelTab()
		return err
	}
	defer session.Close()

	if err := session.Open(ctx); err != nil {
		var navErr *portal.NavigationError
		if errors.As(err, &navErr) {
			logger.Error("Portal never became interactive", zap.String("stage", navErr.Stage), zap.Error(navErr.Err))
		}
		return err
	}

	fetcher := download.NewClient(logger, cfg.Portal.DownloadTimeout)
	run := crawler.New(logger, session, fetcher, csvSink, crawler.Options{
		Schema:       schema,
		RefreshPosts: cfg.Crawl.RefreshPosts,
		DownloadDir:  cfg.Crawl.DownloadDir,
	})

	stats, err := run.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Crawl aborted by signal",
				zap.Int("records", stats.Records),
				zap.Int("combinations", stats.Combinations))
			return fmt.Errorf("crawl aborted by user signal")
		}
		logger.Error("Crawl failed", zap.Error(err))
		return err
	}

	fmt.Printf("\nCrawl complete. %d records from %d combinations (%d skipped, %d districts skipped, %d download failures).\n",
		stats.Records, stats.Combinations, stats.Skipped, stats.SkippedDistricts, stats.DownloadFailures)
	fmt.Printf("Output: %s  Documents: %s/\n", cfg.Crawl.OutputFile, cfg.Crawl.DownloadDir)
	return nil
}
