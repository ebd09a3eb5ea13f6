package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustlayer/internal/permission/domain"
)

// PostgresRepository stores grants in the grants table. Nested condition,
// restriction and delegation bundles are JSONB columns.
type PostgresRepository struct {
	notifier
	db *sql.DB
}

// NewPostgresRepository returns a grant repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const grantColumns = `id, principal_id, source_type, source_id, source_name, source_chain, resource, action,
  scope, scope_id, level, granted, conditions, restrictions, delegation, valid_from, valid_until,
  status, created_at, created_by, updated_at, updated_by`

// FetchGrants returns every grant held by s.
func (r *PostgresRepository) FetchGrants(ctx context.Context, s domain.Subject) ([]domain.Grant, error) {
	var types []any
	switch s.Kind {
	case domain.SubjectRole:
		types = []any{string(domain.SourceRole)}
	case domain.SubjectGroup:
		types = []any{string(domain.SourceGroup)}
	default:
		types = []any{string(domain.SourceDirect), string(domain.SourceDelegated)}
	}
	query := `SELECT ` + grantColumns + ` FROM grants WHERE principal_id = $1 AND source_type IN ($2`
	args := append([]any{s.ID}, types...)
	for i := 1; i < len(types); i++ {
		query += fmt.Sprintf(", $%d", i+2)
	}
	query += `) ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// GetByID returns the grant for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Grant, error) {
	g, err := scanGrant(r.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// Create validates and inserts g, assigning an id and timestamps when missing.
func (r *PostgresRepository) Create(ctx context.Context, g *domain.Grant) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if g.Status == "" {
		g.Status = domain.GrantActive
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.CreatedAt
	}
	chain, err := json.Marshal(g.Source.Chain)
	if err != nil {
		return err
	}
	conds, err := nullableJSON(g.Conditions)
	if err != nil {
		return err
	}
	restr, err := nullableJSON(g.Restrictions)
	if err != nil {
		return err
	}
	deleg, err := nullableJSON(g.Delegation)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO grants (`+grantColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		g.ID, g.PrincipalID, string(g.Source.Type), g.Source.ID, g.Source.Name, chain, g.Resource, g.Action,
		string(g.Scope), g.ScopeID, g.Level.String(), g.Granted, conds, restr, deleg,
		nullTime(g.ValidFrom), nullTime(g.ValidUntil),
		string(g.Status), g.CreatedAt, g.CreatedBy, g.UpdatedAt, g.UpdatedBy)
	if err != nil {
		return err
	}
	r.notify(domain.SubjectOf(*g))
	return nil
}

// SetStatus changes the status of grant id.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status domain.GrantStatus, by string, at time.Time) (bool, error) {
	var principalID, sourceType string
	err := r.db.QueryRowContext(ctx, `
UPDATE grants SET status = $2, updated_at = $3, updated_by = $4 WHERE id = $1
RETURNING principal_id, source_type`, id, string(status), at, by).Scan(&principalID, &sourceType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	r.notify(domain.SubjectOf(domain.Grant{PrincipalID: principalID, Source: domain.Source{Type: domain.SourceType(sourceType)}}))
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*domain.Grant, error) {
	var (
		g                     domain.Grant
		sourceType, level     string
		scope, status         string
		chain                 []byte
		conds, restr, deleg   []byte
		validFrom, validUntil sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.PrincipalID, &sourceType, &g.Source.ID, &g.Source.Name, &chain,
		&g.Resource, &g.Action, &scope, &g.ScopeID, &level, &g.Granted, &conds, &restr, &deleg,
		&validFrom, &validUntil, &status, &g.CreatedAt, &g.CreatedBy, &g.UpdatedAt, &g.UpdatedBy); err != nil {
		return nil, err
	}
	g.Source.Type = domain.SourceType(sourceType)
	g.Scope = domain.Scope(scope)
	g.Status = domain.GrantStatus(status)
	lv, err := domain.ParseAccessLevel(level)
	if err != nil {
		return nil, fmt.Errorf("grant %s: %w", g.ID, err)
	}
	g.Level = lv
	if len(chain) > 0 {
		if err := json.Unmarshal(chain, &g.Source.Chain); err != nil {
			return nil, fmt.Errorf("grant %s source chain: %w", g.ID, err)
		}
	}
	if len(conds) > 0 {
		g.Conditions = &domain.Conditions{}
		if err := json.Unmarshal(conds, g.Conditions); err != nil {
			return nil, fmt.Errorf("grant %s conditions: %w", g.ID, err)
		}
	}
	if len(restr) > 0 {
		g.Restrictions = &domain.Restrictions{}
		if err := json.Unmarshal(restr, g.Restrictions); err != nil {
			return nil, fmt.Errorf("grant %s restrictions: %w", g.ID, err)
		}
	}
	if len(deleg) > 0 {
		g.Delegation = &domain.Delegation{}
		if err := json.Unmarshal(deleg, g.Delegation); err != nil {
			return nil, fmt.Errorf("grant %s delegation: %w", g.ID, err)
		}
	}
	if validFrom.Valid {
		g.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		g.ValidUntil = &validUntil.Time
	}
	return &g, nil
}

func nullableJSON(v any) ([]byte, error) {
	switch x := v.(type) {
	case *domain.Conditions:
		if x == nil {
			return nil, nil
		}
	case *domain.Restrictions:
		if x == nil {
			return nil, nil
		}
	case *domain.Delegation:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
