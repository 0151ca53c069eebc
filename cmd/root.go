// Package cmd implements the anchor command line interface.
package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kjellm/anchor/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Anchor - grounded knowledge assistant for a personal portfolio site",
	Long: `Anchor ingests portfolio documents into a versioned knowledge store and
answers questions about them over HTTP, citing the source passages it used.
Answers the knowledge base cannot support are refused, not improvised.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	logger := initLogger()
	slog.SetDefault(logger)
	return rootCmd.Execute()
}

// initLogger builds the process-wide logger from ANCHOR_LOG_LEVEL and
// ANCHOR_LOG_FORMAT (text by default, "json" for machine consumption).
func initLogger() log.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("ANCHOR_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return log.New(log.Config{
		Level: level,
		JSON:  strings.EqualFold(os.Getenv("ANCHOR_LOG_FORMAT"), "json"),
	})
}
