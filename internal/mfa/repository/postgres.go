package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"trustlayer/internal/mfa/domain"
)

// PostgresRepository stores sessions in mfa_sessions. Device info and attempt
// history are JSONB; version drives CompareAndSwap.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an MFA session repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, login_session_id, method, status, code_hash, generated_at, expires_at,
  attempts, max_attempts, device, risk_score, history, remember_device, remember_for_seconds, implicit,
  created_at, updated_at, completed_at, version`

// Create inserts s with version 1. A second open session for the same
// (user, login, method) violates a partial unique index.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	device, history, err := encodeSession(s)
	if err != nil {
		return err
	}
	s.Version = 1
	_, err = r.db.ExecContext(ctx, `INSERT INTO mfa_sessions (`+sessionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.UserID, s.LoginSessionID, string(s.Method), string(s.Status), s.CodeHash, s.GeneratedAt, s.ExpiresAt,
		s.Attempts, s.MaxAttempts, device, s.RiskScore, history, s.RememberDevice, int64(s.RememberFor/time.Second), s.Implicit,
		s.CreatedAt, s.UpdatedAt, nullTime(s.CompletedAt), s.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

const uniqueViolation = "23505"

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM mfa_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// CompareAndSwap updates the mutable fields of s when the stored version equals expected.
func (r *PostgresRepository) CompareAndSwap(ctx context.Context, s *domain.Session, expected int64) (bool, error) {
	_, history, err := encodeSession(s)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE mfa_sessions SET status = $3, code_hash = $4, generated_at = $5, expires_at = $6, attempts = $7,
  history = $8, updated_at = $9, completed_at = $10, version = version + 1
WHERE id = $1 AND version = $2`,
		s.ID, expected, string(s.Status), s.CodeHash, s.GeneratedAt, s.ExpiresAt, s.Attempts,
		history, s.UpdatedAt, nullTime(s.CompletedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	s.Version = expected + 1
	return true, nil
}

// ListByLogin returns the login's sessions ordered by creation.
func (r *PostgresRepository) ListByLogin(ctx context.Context, userID, loginSessionID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM mfa_sessions
WHERE user_id = $1 AND login_session_id = $2 ORDER BY created_at, id`, userID, loginSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func encodeSession(s *domain.Session) (device, history []byte, err error) {
	if device, err = json.Marshal(s.Device); err != nil {
		return nil, nil, err
	}
	h := s.History
	if h == nil {
		h = []domain.Attempt{}
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, err
	}
	return device, history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s               domain.Session
		method, status  string
		device, history []byte
		rememberSeconds int64
		completed       sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.LoginSessionID, &method, &status, &s.CodeHash, &s.GeneratedAt, &s.ExpiresAt,
		&s.Attempts, &s.MaxAttempts, &device, &s.RiskScore, &history, &s.RememberDevice, &rememberSeconds, &s.Implicit,
		&s.CreatedAt, &s.UpdatedAt, &completed, &s.Version); err != nil {
		return nil, err
	}
	s.Method = domain.Method(method)
	s.Status = domain.Status(status)
	s.RememberFor = time.Duration(rememberSeconds) * time.Second
	if completed.Valid {
		s.CompletedAt = &completed.Time
	}
	if len(device) > 0 {
		if err := json.Unmarshal(device, &s.Device); err != nil {
			return nil, fmt.Errorf("mfa session %s device: %w", s.ID, err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.History); err != nil {
			return nil, fmt.Errorf("mfa session %s history: %w", s.ID, err)
		}
	}
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// PostgresEnrollments stores TOTP secrets in mfa_enrollments and backup codes in mfa_backup_codes.
type PostgresEnrollments struct {
	db *sql.DB
}

// NewPostgresEnrollments returns an enrollment store that uses the given db.
func NewPostgresEnrollments(db *sql.DB) *PostgresEnrollments {
	return &PostgresEnrollments{db: db}
}

// TOTPSecret returns the user's secret, or "" if not enrolled.
func (r *PostgresEnrollments) TOTPSecret(ctx context.Context, userID string) (string, error) {
	var secret string
	err := r.db.QueryRowContext(ctx, `SELECT totp_secret FROM mfa_enrollments WHERE user_id = $1`, userID).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return secret, err
}

// SetTOTPSecret stores or replaces the user's secret.
func (r *PostgresEnrollments) SetTOTPSecret(ctx context.Context, userID, secret string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO mfa_enrollments (user_id, totp_secret, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET totp_secret = EXCLUDED.totp_secret, updated_at = EXCLUDED.updated_at`,
		userID, secret, at)
	return err
}

// Unused returns the user's unused backup codes.
func (r *PostgresEnrollments) Unused(ctx context.Context, userID string) ([]domain.BackupCode, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, hash FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BackupCode
	for rows.Next() {
		c := domain.BackupCode{UserID: userID}
		if err := rows.Scan(&c.ID, &c.Hash); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkUsed consumes a code exactly once.
func (r *PostgresEnrollments) MarkUsed(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mfa_backup_codes SET used_at = $3 WHERE user_id = $1 AND id = $2 AND used_at IS NULL`, userID, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Replace swaps the user's backup codes in one transaction.
func (r *PostgresEnrollments) Replace(ctx context.Context, userID string, codes []domain.BackupCode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mfa_backup_codes (id, user_id, hash) VALUES ($1, $2, $3)`, c.ID, userID, c.Hash); err != nil {
			return err
		}
	}
	return tx.Commit()
}
