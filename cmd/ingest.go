package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kjellm/anchor/internal/app"
	"github.com/kjellm/anchor/internal/config"
	"github.com/kjellm/anchor/internal/ingest"
)

var ingestWatch bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest intake documents into a new knowledge version",
	Long: `Process every document in the intake directory: sanitize, chunk, embed,
and store them as a new knowledge version, then activate it. Processed
documents move to the archive; failed ones stay in intake for inspection.

With --watch, keep running and re-ingest whenever the intake directory
changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "watch the intake directory and ingest on change")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if ingestWatch {
		logger.Info("watching intake directory", "dir", cfg.IntakeDir)
		return a.Pipeline.Watch(ctx)
	}

	summary, err := a.Pipeline.Run(ctx)
	if err != nil {
		if errors.Is(err, ingest.ErrIngestLocked) {
			return errors.New("another ingestion run holds the intake lock")
		}
		return fmt.Errorf("ingesting: %w", err)
	}

	printSummary(summary)
	return nil
}

func printSummary(s *ingest.Summary) {
	fmt.Printf("Processed: %d\n", s.Processed)
	fmt.Printf("Skipped:   %d (unchanged)\n", s.Skipped)
	fmt.Printf("Failed:    %d\n", s.Failed)
	if s.VersionID != 0 {
		status := "created, not activated"
		if s.Activated {
			status = "active"
		}
		fmt.Printf("Version:   %d (%s)\n", s.VersionID, status)
	}
	fmt.Printf("Duration:  %s\n", s.Duration.Round(timeRound))
}
