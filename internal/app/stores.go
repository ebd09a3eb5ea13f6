// Package app wires configuration, stores and services for the binaries.
package app

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	auditrepo "trustlayer/internal/audit/repository"
	"trustlayer/internal/clock"
	"trustlayer/internal/config"
	"trustlayer/internal/db"
	devicerepo "trustlayer/internal/device/repository"
	dirrepo "trustlayer/internal/directory/repository"
	grantrepo "trustlayer/internal/grant/repository"
	"trustlayer/internal/mfa"
	mfarepo "trustlayer/internal/mfa/repository"
	policyrepo "trustlayer/internal/policy/repository"
)

// Enrollments stores TOTP secrets and backup codes.
type Enrollments interface {
	mfarepo.EnrollmentRepository
	mfa.BackupCodeStore
}

// Stores holds one implementation of every repository. DB is nil when the
// stores are in memory.
type Stores struct {
	DB          *sql.DB
	Audit       auditrepo.Repository
	Grants      grantrepo.Repository
	Directory   dirrepo.Repository
	Sessions    mfarepo.Repository
	Enrollments Enrollments
	Devices     devicerepo.Repository
	Policies    policyrepo.Repository
}

// MemoryStores returns empty in-memory stores.
func MemoryStores(c clock.Clock) *Stores {
	return &Stores{
		Audit:       auditrepo.NewMemoryRepository(),
		Grants:      grantrepo.NewMemoryRepository(),
		Directory:   dirrepo.NewMemoryRepository(c),
		Sessions:    mfarepo.NewMemoryRepository(),
		Enrollments: mfarepo.NewMemoryEnrollments(),
		Devices:     devicerepo.NewMemoryRepository(),
		Policies:    policyrepo.NewMemoryRepository(),
	}
}

// PostgresStores returns stores backed by conn.
func PostgresStores(conn *sql.DB, c clock.Clock) *Stores {
	return &Stores{
		DB:          conn,
		Audit:       auditrepo.NewPostgresRepository(conn),
		Grants:      grantrepo.NewPostgresRepository(conn),
		Directory:   dirrepo.NewPostgresRepository(conn, c),
		Sessions:    mfarepo.NewPostgresRepository(conn),
		Enrollments: mfarepo.NewPostgresEnrollments(conn),
		Devices:     devicerepo.NewPostgresRepository(conn),
		Policies:    policyrepo.NewPostgresRepository(conn),
	}
}

// OpenStores connects to DATABASE_URL, or falls back to memory stores when it
// is empty outside production.
func OpenStores(ctx context.Context, cfg *config.Config, c clock.Clock, log *zap.Logger) (*Stores, error) {
	if cfg.DatabaseURL == "" && !cfg.Production() {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return MemoryStores(c), nil
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		return nil, err
	}
	return PostgresStores(conn, c), nil
}

// Close closes the database pool, if any.
func (s *Stores) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
