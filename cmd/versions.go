package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjellm/anchor/internal/app"
	"github.com/kjellm/anchor/internal/config"
)

// timeRound trims sub-millisecond noise from durations printed to users.
const timeRound = time.Millisecond

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage knowledge store versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all versions in the configured namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersionsList()
	},
}

var versionsActivateCmd = &cobra.Command{
	Use:   "activate <version-id>",
	Short: "Activate a version (use an older id to roll back)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version id %q", args[0])
		}
		return runVersionsActivate(id)
	},
}

func init() {
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsActivateCmd)
	rootCmd.AddCommand(versionsCmd)
}

// withApp loads config, builds the App, runs fn, and tears down.
func withApp(fn func(ctx context.Context, a *app.App, cfg *config.Config) error) error {
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

	return fn(ctx, a, cfg)
}

func runVersionsList() error {
	return withApp(func(ctx context.Context, a *app.App, cfg *config.Config) error {
		versions, err := a.Store.ListVersions(ctx, cfg.Namespace)
		if err != nil {
			return fmt.Errorf("listing versions: %w", err)
		}
		if len(versions) == 0 {
			fmt.Printf("No versions in namespace %q\n", cfg.Namespace)
			return nil
		}

		active, err := a.Store.ActiveVersion(ctx, cfg.Namespace)
		activeID := int64(-1)
		if err == nil {
			activeID = active.ID
		}

		fmt.Printf("%-8s %-10s %-30s %-8s %s\n", "ID", "CHUNKS", "EMBEDDER", "DIM", "CREATED")
		for _, v := range versions {
			marker := " "
			if v.ID == activeID {
				marker = "*"
			}
			fmt.Printf("%s%-7d %-10d %-30s %-8d %s\n",
				marker, v.ID, v.ChunkCount, v.EmbedderModel, v.Dimension,
				v.CreatedAt.Format(time.RFC3339))
		}
		return nil
	})
}

func runVersionsActivate(id int64) error {
	return withApp(func(ctx context.Context, a *app.App, cfg *config.Config) error {
		if err := a.Store.Activate(ctx, cfg.Namespace, id); err != nil {
			return fmt.Errorf("activating version %d: %w", id, err)
		}
		fmt.Printf("Version %d is now active in namespace %q\n", id, cfg.Namespace)
		return nil
	})
}
