package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trustlayer/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `body, state, archive_at, delete_at, archived_at, deleted_at`

// Create inserts the record. The full record is kept as JSON; the indexed
// columns duplicate the fields searches filter on.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_records (id, ts, event_type, category, severity, severity_rank, status, actor_id, tenant_id,
  correlation_id, source_ip, retention_months, checksum, signature, state, archive_at, delete_at, body)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.ID, rec.Timestamp, string(rec.Type), string(rec.Category), string(rec.Severity), rec.Severity.Rank(),
		string(rec.Status), rec.Actor.ID, rec.Context.TenantID, rec.Context.CorrelationID, rec.Source.IP,
		rec.Compliance.RetentionMonths, rec.Integrity.Checksum, rec.Integrity.Signature,
		string(rec.Archival.State), rec.Archival.ArchiveAt, rec.Archival.DeleteAt, body)
	return err
}

// GetByID returns the record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Search returns records matching f ordered by ts, id.
func (r *PostgresRepository) Search(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	var q query
	q.eq("actor_id", f.ActorID)
	q.eq("tenant_id", f.TenantID)
	q.eq("correlation_id", f.CorrelationID)
	q.eq("source_ip", f.IP)
	q.in("event_type", stringsOf(f.Types))
	q.in("category", stringsOf(f.Categories))
	q.in("status", stringsOf(f.Statuses))
	q.in("state", stringsOf(f.States))
	if f.MinSeverity != "" {
		q.where("severity_rank >= " + q.arg(f.MinSeverity.Rank()))
	}
	if !f.From.IsZero() {
		q.where("ts >= " + q.arg(f.From))
	}
	if !f.To.IsZero() {
		q.where("ts < " + q.arg(f.To))
	}
	stmt := `SELECT ` + recordColumns + ` FROM audit_records` + q.clause() +
		` ORDER BY ts, id LIMIT ` + q.arg(f.PageSize()) + ` OFFSET ` + q.arg(f.Offset)
	return r.list(ctx, stmt, q.args...)
}

// Due returns records in state whose next archival threshold has passed.
func (r *PostgresRepository) Due(ctx context.Context, state domain.ArchivalState, now time.Time, limit int) ([]*domain.Record, error) {
	var col string
	switch state {
	case domain.StateActive:
		col = "archive_at"
	case domain.StateArchived:
		col = "delete_at"
	default:
		return nil, nil
	}
	return r.list(ctx, `SELECT `+recordColumns+` FROM audit_records WHERE state = $1 AND `+col+` <= $2
ORDER BY ts, id LIMIT $3`, string(state), now, limit)
}

// Transition conditionally advances the archival state. Concurrent sweepers
// race on the WHERE clause; exactly one wins.
func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to domain.ArchivalState, at time.Time) (bool, error) {
	var col string
	switch {
	case from == domain.StateActive && to == domain.StateArchived:
		col = "archived_at"
	case from == domain.StateArchived && to == domain.StateDeleted:
		col = "deleted_at"
	default:
		return false, fmt.Errorf("audit: transition %s -> %s is not allowed", from, to)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE audit_records SET state = $3, `+col+` = $4 WHERE id = $1 AND state = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) list(ctx context.Context, stmt string, args ...any) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord decodes the stored body and overlays the mutable archival columns.
func scanRecord(s rowScanner) (*domain.Record, error) {
	var (
		body                  []byte
		state                 string
		archiveAt, deleteAt   time.Time
		archivedAt, deletedAt sql.NullTime
	)
	if err := s.Scan(&body, &state, &archiveAt, &deleteAt, &archivedAt, &deletedAt); err != nil {
		return nil, err
	}
	var rec domain.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("audit: decode record: %w", err)
	}
	rec.Archival = domain.Archival{
		State:     domain.ArchivalState(state),
		ArchiveAt: archiveAt.UTC(),
		DeleteAt:  deleteAt.UTC(),
	}
	if archivedAt.Valid {
		t := archivedAt.Time.UTC()
		rec.Archival.ArchivedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		rec.Archival.DeletedAt = &t
	}
	return &rec, nil
}

// query accumulates WHERE conditions with positional arguments.
type query struct {
	conds []string
	args  []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *query) where(cond string) { q.conds = append(q.conds, cond) }

func (q *query) eq(col, v string) {
	if v != "" {
		q.where(col + " = " + q.arg(v))
	}
}

func (q *query) in(col string, vs []string) {
	if len(vs) == 0 {
		return
	}
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = q.arg(v)
	}
	q.where(col + " IN (" + strings.Join(ph, ", ") + ")")
}

func (q *query) clause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

func stringsOf[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
