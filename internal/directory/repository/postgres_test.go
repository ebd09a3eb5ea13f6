package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"trustlayer/internal/clock"
)

func TestPostgresRepository_Lookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hired := now.AddDate(0, -7, 0)
	repo := NewPostgresRepository(db, clock.NewFake(now))

	mock.ExpectQuery("SELECT id, status, department, hired_at, attributes FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "department", "hired_at", "attributes"}).
			AddRow("u1", "active", "Finance", hired, []byte(`{"certifications":["SOX-101"]}`)))
	mock.ExpectQuery("SELECT role_id FROM role_assignments").
		WithArgs("u1", now).
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow("editor"))
	mock.ExpectQuery("SELECT group_id FROM group_memberships").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}).AddRow("finance-team"))
	mock.ExpectQuery("SELECT parent_id FROM roles").
		WithArgs("editor").
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}).AddRow("viewer"))
	mock.ExpectQuery("SELECT parent_id FROM roles").
		WithArgs("viewer").
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}).AddRow(nil))

	p, err := repo.Lookup(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.Profile.SeniorityMonths != 7 {
		t.Errorf("SeniorityMonths = %d, want 7", p.Profile.SeniorityMonths)
	}
	if len(p.Profile.Certifications) != 1 || p.Profile.Certifications[0] != "SOX-101" {
		t.Errorf("Certifications = %v", p.Profile.Certifications)
	}
	if len(p.InheritedRoles) != 1 || p.InheritedRoles[0].RoleID != "viewer" {
		t.Errorf("InheritedRoles = %+v", p.InheritedRoles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresRepository_Lookup_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, status").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "department", "hired_at", "attributes"}))

	p, err := NewPostgresRepository(db, nil).Lookup(context.Background(), "ghost")
	if err != nil || p != nil {
		t.Fatalf("Lookup = %v, %v; want nil, nil", p, err)
	}
}
