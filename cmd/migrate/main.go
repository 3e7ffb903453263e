package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	appmigrations "github.com/wolfman30/dental-scheduling-assistant/migrations"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

const usage = "usage: migrate [up | down <steps> | version | force <version>]"

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg.DatabaseURL, os.Args[1:], logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(databaseURL string, args []string, logger *logging.Logger) error {
	if databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	src, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		steps, err := intArg(args)
		if err != nil {
			return err
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down %d: %w", steps, err)
		}
	case "force":
		version, err := intArg(args)
		if err != nil {
			return err
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force version %d: %w", version, err)
		}
	case "version":
	default:
		return errors.New(usage)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	logger.Info("migrations complete", "command", cmd, "version", version, "dirty", dirty)
	return nil
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, errors.New(usage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q: %s", args[1], usage)
	}
	return n, nil
}
