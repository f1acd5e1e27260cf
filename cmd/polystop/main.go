// Command polystop is the entry point for the stop-loss bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and runs the configured mode. The selection flags manage the persisted
// "selected" monitoring set and exit without starting the bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wkoss/polystop/internal/app"
	"github.com/wkoss/polystop/internal/config"
	"github.com/wkoss/polystop/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	setSelection := flag.String("set-selection", "", "comma-separated token ids: replace the persisted selected set and exit")
	clearSelection := flag.Bool("clear-selection", false, "clear the persisted selected set and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Selection management is a one-shot operation against the database.
	if *setSelection != "" || *clearSelection {
		if err := manageSelection(cfg, *setSelection, *clearSelection, logger); err != nil {
			logger.Error("selection update failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	logger.Info("polystop starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("polystop stopped")
}

// manageSelection replaces or clears the persisted selected token set.
func manageSelection(cfg *config.Config, set string, clear bool, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgClient.Close()

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	selections := postgres.NewSelectionStore(pgClient.Pool())

	if clear {
		if err := selections.Clear(ctx); err != nil {
			return fmt.Errorf("clear selection: %w", err)
		}
		logger.Info("persisted selection cleared")
		return nil
	}

	var tokenIDs []string
	for _, id := range strings.Split(set, ",") {
		if id = strings.TrimSpace(id); id != "" {
			tokenIDs = append(tokenIDs, id)
		}
	}
	if len(tokenIDs) == 0 {
		return errors.New("no token ids given")
	}

	if err := selections.Save(ctx, tokenIDs); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	logger.Info("persisted selection replaced", slog.Int("tokens", len(tokenIDs)))
	return nil
}
