// Command sentinel-migrate applies or rolls back the Postgres schema used by
// store/pgstore.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"github.com/MrEthical07/goSentinel/internal/bootstrap"
	"github.com/MrEthical07/goSentinel/store/pgstore"
)

func main() {
	var (
		dsn     = flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
		command = flag.String("command", "up", "up, down (one step) or version")
	)
	flag.Parse()

	logger := bootstrap.NewLogger(os.Getenv("SENTINEL_LOG_LEVEL"), os.Stdout)
	slog.SetDefault(logger)

	if err := run(*dsn, *command, logger); err != nil {
		logger.Error("migration failed", "command", *command, "error", err)
		os.Exit(1)
	}
}

func run(dsn, command string, logger *slog.Logger) error {
	if dsn == "" {
		return errors.New("database url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pgstore.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	switch command {
	case "up":
		if err := pgstore.Migrate(store.DB()); err != nil {
			return err
		}
	case "down":
		m, err := pgstore.Migrator(store.DB())
		if err != nil {
			return err
		}
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("rolling back: %w", err)
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	m, err := pgstore.Migrator(store.DB())
	if err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading version: %w", err)
	}
	logger.Info("schema version", "version", version, "dirty", dirty)
	return nil
}
