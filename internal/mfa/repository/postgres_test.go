package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"trustlayer/internal/mfa/domain"
)

func TestPostgresRepository_CompareAndSwap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &domain.Session{ID: "s1", Status: domain.StatusFailed, Attempts: 1, UpdatedAt: now, Version: 3}

	mock.ExpectExec("UPDATE mfa_sessions SET status").
		WithArgs("s1", int64(3), "FAILED", "", sqlmock.AnyArg(), sqlmock.AnyArg(), 1, sqlmock.AnyArg(), now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.CompareAndSwap(context.Background(), s, 3)
	if err != nil || !ok {
		t.Fatalf("CAS = %v, %v", ok, err)
	}
	if s.Version != 4 {
		t.Errorf("Version = %d, want 4", s.Version)
	}

	mock.ExpectExec("UPDATE mfa_sessions SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.CompareAndSwap(context.Background(), s, 3)
	if err != nil || ok {
		t.Errorf("stale CAS = %v, %v; want false, nil", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresRepository_CreateUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &domain.Session{ID: "s2", UserID: "u1", LoginSessionID: "l1", Method: domain.MethodSMS,
		Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO mfa_sessions").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "mfa_sessions_open_idx"})
	if err := repo.Create(context.Background(), s); err != ErrDuplicate {
		t.Errorf("Create: err = %v, want ErrDuplicate", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "login_session_id", "method", "status", "code_hash", "generated_at", "expires_at",
		"attempts", "max_attempts", "device", "risk_score", "history", "remember_device", "remember_for_seconds", "implicit",
		"created_at", "updated_at", "completed_at", "version"}
	mock.ExpectQuery("FROM mfa_sessions WHERE id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s1", "u1", "l1", "SMS", "BLOCKED", "hash", now, now.Add(5*time.Minute),
			3, 3, []byte(`{"fingerprint":"fp"}`), 0.4, []byte(`[{"at":"2026-01-01T00:00:00Z","result":"FAIL"}]`),
			true, int64(86400), false, now, now, now, int64(5)))

	s, err := NewPostgresRepository(db).GetByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if s.Status != domain.StatusBlocked || s.Device.Fingerprint != "fp" || len(s.History) != 1 || s.RememberFor != 24*time.Hour {
		t.Errorf("session = %+v", s)
	}
	if s.CompletedAt == nil || s.Version != 5 {
		t.Errorf("completed/version = %v/%d", s.CompletedAt, s.Version)
	}
}
