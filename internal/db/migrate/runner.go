// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"trustlayer/internal/db"
)

// Directions accepted by Run.
const (
	Up   = "up"
	Down = "down"
)

// Runner applies the embedded migrations to one database.
type Runner struct {
	m *migrate.Migrate
}

// New opens a runner for dsn. log receives golang-migrate's progress lines; nil discards them.
func New(dsn string, log *zap.Logger) (*Runner, error) {
	if dsn == "" {
		return nil, errors.New("migrate: DATABASE_URL is not set")
	}
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if log != nil {
		m.Log = zapLogger{log.Sugar()}
	}
	return &Runner{m: m}, nil
}

// Up applies every pending migration. Already being current is not an error.
func (r *Runner) Up() error { return ignoreNoChange(r.m.Up()) }

// Down reverts every applied migration.
func (r *Runner) Down() error { return ignoreNoChange(r.m.Down()) }

// Steps applies n migrations forward, or -n backward when n is negative.
func (r *Runner) Steps(n int) error { return ignoreNoChange(r.m.Steps(n)) }

// Version returns the applied version and whether the last migration left the schema dirty.
// A database with no migrations applied reports version 0.
func (r *Runner) Version() (uint, bool, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the source and database handles.
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Run applies migrations in the given direction using the provided DSN.
func Run(dsn, direction string, log *zap.Logger) error {
	if direction != Up && direction != Down {
		return fmt.Errorf("migrate: direction must be up or down, got %q", direction)
	}
	r, err := New(dsn, log)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	if direction == Up {
		return r.Up()
	}
	return r.Down()
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }

func (l zapLogger) Verbose() bool { return false }
