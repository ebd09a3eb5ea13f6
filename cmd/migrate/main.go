// Migrate applies the embedded schema migrations to DATABASE_URL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"trustlayer/internal/config"
	"trustlayer/internal/db/migrate"
	"trustlayer/internal/logging"
)

func main() {
	direction := pflag.StringP("direction", "d", migrate.Up, "migration direction: up or down")
	steps := pflag.IntP("steps", "n", 0, "apply n migrations (negative reverts); overrides --direction")
	version := pflag.Bool("version", false, "print the applied schema version and exit")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, Development: !cfg.Production()})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg.DatabaseURL, *direction, *steps, *version, log); err != nil {
		log.Error("migrate failed", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func run(dsn, direction string, steps int, version bool, log *zap.Logger) error {
	if direction != migrate.Up && direction != migrate.Down {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	r, err := migrate.New(dsn, log.Named("migrate"))
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	switch {
	case version:
	case steps != 0:
		err = r.Steps(steps)
	case direction == migrate.Up:
		err = r.Up()
	default:
		err = r.Down()
	}
	if err != nil {
		return err
	}
	v, dirty, err := r.Version()
	if err != nil {
		return err
	}
	log.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}
