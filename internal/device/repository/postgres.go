package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trustlayer/internal/device/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const deviceColumns = `id, user_id, fingerprint, name, user_agent, remembered_at, expires_at, last_used_at, revoked_at`

// Get returns the device for the given user and fingerprint, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, userID, fingerprint string) (*domain.RememberedDevice, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM remembered_devices WHERE user_id = $1 AND fingerprint = $2`, userID, fingerprint))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// Upsert inserts the device or refreshes the existing (user_id, fingerprint) row,
// clearing revoked_at. d.ID is set to the stored id.
func (r *PostgresRepository) Upsert(ctx context.Context, d *domain.RememberedDevice) error {
	return r.db.QueryRowContext(ctx, `
INSERT INTO remembered_devices (id, user_id, fingerprint, name, user_agent, remembered_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, fingerprint) DO UPDATE SET
  name = EXCLUDED.name, user_agent = EXCLUDED.user_agent, remembered_at = EXCLUDED.remembered_at,
  expires_at = EXCLUDED.expires_at, revoked_at = NULL
RETURNING id`,
		d.ID, d.UserID, d.Fingerprint, d.Name, d.UserAgent, d.RememberedAt, d.ExpiresAt).Scan(&d.ID)
}

// Revoke sets revoked_at for the user's device if it is not already revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, userID, fingerprint string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE remembered_devices SET revoked_at = $3 WHERE user_id = $1 AND fingerprint = $2 AND revoked_at IS NULL`,
		userID, fingerprint, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListByUser returns all devices for the user, oldest first. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.RememberedDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM remembered_devices WHERE user_id = $1 ORDER BY remembered_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.RememberedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Touch sets the device's last-used timestamp.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE remembered_devices SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*domain.RememberedDevice, error) {
	var (
		d                 domain.RememberedDevice
		lastUsed, revoked sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.Name, &d.UserAgent,
		&d.RememberedAt, &d.ExpiresAt, &lastUsed, &revoked); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		d.LastUsedAt = &lastUsed.Time
	}
	if revoked.Valid {
		d.RevokedAt = &revoked.Time
	}
	return &d, nil
}
