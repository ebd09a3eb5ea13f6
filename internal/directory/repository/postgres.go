package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trustlayer/internal/clock"
	"trustlayer/internal/directory/domain"
	permdomain "trustlayer/internal/permission/domain"
)

// PostgresRepository reads the directory tables.
type PostgresRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresRepository returns a directory repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB, c clock.Clock) *PostgresRepository {
	if c == nil {
		c = clock.Real()
	}
	return &PostgresRepository{db: db, clock: c}
}

// profileAttributes is the JSON shape of users.attributes.
type profileAttributes struct {
	Certifications []string `json:"certifications,omitempty"`
	Trainings      []string `json:"trainings,omitempty"`
}

// Lookup returns the principal for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Lookup(ctx context.Context, id string) (*domain.Principal, error) {
	var (
		u     domain.User
		dept  sql.NullString
		hired sql.NullTime
		attrs []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, status, department, hired_at, attributes FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Status, &dept, &hired, &attrs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Department = dept.String
	if hired.Valid {
		u.HiredAt = &hired.Time
	}
	var pa profileAttributes
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &pa); err != nil {
			return nil, fmt.Errorf("directory: user %s attributes: %w", id, err)
		}
	}
	now := r.clock.Now()

	roles, err := r.strings(ctx,
		`SELECT role_id FROM role_assignments WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2) ORDER BY role_id`,
		id, now)
	if err != nil {
		return nil, err
	}
	groups, err := r.strings(ctx, `SELECT group_id FROM group_memberships WHERE user_id = $1 ORDER BY group_id`, id)
	if err != nil {
		return nil, err
	}
	inherited, err := domain.Ancestors(roles, func(roleID string) (string, error) {
		var parent sql.NullString
		err := r.db.QueryRowContext(ctx, `SELECT parent_id FROM roles WHERE id = $1`, roleID).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return parent.String, err
	})
	if err != nil {
		return nil, err
	}
	return &domain.Principal{
		ID:             u.ID,
		Status:         u.Status,
		Roles:          roles,
		InheritedRoles: inherited,
		Groups:         groups,
		Profile: permdomain.Profile{
			Department:      u.Department,
			SeniorityMonths: u.SeniorityMonths(now),
			Roles:           roles,
			Certifications:  pa.Certifications,
			Trainings:       pa.Trainings,
		},
	}, nil
}

func (r *PostgresRepository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetUser returns the user row for id, or nil if not found.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var (
		u                  domain.User
		email, name, phone sql.NullString
		dept               sql.NullString
		hired              sql.NullTime
		attrs              []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, phone, status, department, hired_at, attributes, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &email, &name, &phone, &u.Status, &dept, &hired, &attrs, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Email, u.Name, u.Phone, u.Department = email.String, name.String, phone.String, dept.String
	if hired.Valid {
		u.HiredAt = &hired.Time
	}
	if len(attrs) > 0 {
		var pa profileAttributes
		if err := json.Unmarshal(attrs, &pa); err != nil {
			return nil, fmt.Errorf("directory: user %s attributes: %w", id, err)
		}
		u.Certifications, u.Trainings = pa.Certifications, pa.Trainings
	}
	return &u, nil
}

// CreateUser inserts u, updating profile fields when the id already exists.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	attrs, err := json.Marshal(profileAttributes{Certifications: u.Certifications, Trainings: u.Trainings})
	if err != nil {
		return err
	}
	var hired sql.NullTime
	if u.HiredAt != nil {
		hired = sql.NullTime{Time: *u.HiredAt, Valid: true}
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = r.clock.Now()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO users (id, email, name, phone, status, department, hired_at, attributes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, department = EXCLUDED.department,
  hired_at = EXCLUDED.hired_at, attributes = EXCLUDED.attributes`,
		u.ID, u.Email, u.Name, u.Phone, string(u.Status), u.Department, hired, attrs, created)
	return err
}

// CreateRole inserts role or updates its name and parent.
func (r *PostgresRepository) CreateRole(ctx context.Context, role *domain.Role) error {
	var parent sql.NullString
	if role.ParentID != "" {
		parent = sql.NullString{String: role.ParentID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO roles (id, name, parent_id) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id`,
		role.ID, role.Name, parent)
	return err
}

// AssignRole gives userID the role. Assigning twice is a no-op.
func (r *PostgresRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO role_assignments (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// AddToGroup adds userID to the group. Adding twice is a no-op.
func (r *PostgresRepository) AddToGroup(ctx context.Context, userID, groupID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_memberships (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, groupID)
	return err
}
