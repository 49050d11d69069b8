package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
	gsheet "fintrack/internal/sheets/google"
	"fintrack/internal/sheets/memory"
	"fintrack/internal/worker"
)

var dryRun bool

var rootCmd = &cobra.Command{
	Use:   "fintrack-worker",
	Short: "Mirror every user's transactions into Google Sheets",
	// Running without a subcommand starts the consumer.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume change messages and keep the sheets in step",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, cfg := bootstrap()
		if err := cfg.ValidateMirror(); err != nil {
			return err
		}

		repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
		defer repo.Close()

		sheetsClient, err := newSheetsClient(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		mirrorWorker := worker.NewMirrorWorker(repo, sheetsClient, cfg.MirrorBatchSize, logger)

		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			return fmt.Errorf("initialize AMQP client: %w", err)
		}
		defer amqpClient.Close()

		ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

		logger.Info("Performing startup sync check...")
		if err := mirrorWorker.StartupSyncCheck(ctx); err != nil {
			logger.Error("Failed startup sync check", log.FieldError, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return amqpClient.ConsumeTransactionChanges(gctx, mirrorWorker.HandleChange)
		})
		g.Go(func() error {
			ticker := time.NewTicker(cfg.MirrorSyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					if err := mirrorWorker.ProcessPending(gctx); err != nil {
						logger.Error("Periodic sync failed", log.FieldError, err)
					}
				}
			}
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Worker stopped", log.FieldError, err)
		}

		cli.WaitForShutdown(ctx, done)
		mirrored, failed := mirrorWorker.Stats()
		logger.Info("Worker shutdown complete", "mirrored", mirrored, "failed", failed)
		return nil
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Rewrite every user's sheet once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, cfg := bootstrap()

		repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
		defer repo.Close()

		if dryRun {
			mirror := memory.New()
			if err := worker.NewMirrorWorker(repo, mirror, cfg.MirrorBatchSize, logger).ResyncAll(cmd.Context()); err != nil {
				return err
			}
			logger.Info("Dry run complete", "sheets", mirror.Writes())
			return nil
		}

		if err := cfg.ValidateMirror(); err != nil {
			return err
		}
		sheetsClient, err := newSheetsClient(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if err := worker.NewMirrorWorker(repo, sheetsClient, cfg.MirrorBatchSize, logger).ResyncAll(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Resync complete")
		return nil
	},
}

func bootstrap() (*log.Logger, *config.Config) {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting fintrack-worker")
	return logger, cli.LoadAndValidateConfig(logger)
}

func newSheetsClient(ctx context.Context, cfg *config.Config, logger *log.Logger) (*gsheet.Client, error) {
	client, err := gsheet.NewClient(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetPrefix:     cfg.GoogleSheetPrefix,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets client: %w", err)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}

func init() {
	resyncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Build the sheets in memory without contacting Google")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resyncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
