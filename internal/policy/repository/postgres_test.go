package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"trustlayer/internal/policy/domain"
)

func TestPostgresRepository_ListEnabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM policies WHERE enabled").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "rules", "enabled", "created_at", "updated_at"}).
			AddRow("p1", "strict", "package trustlayer.mfa", true, now, now))

	list, err := NewPostgresRepository(db).ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(list) != 1 || list[0].Name != "strict" || !list[0].Enabled {
		t.Errorf("list = %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestMemoryRepository_ListEnabled(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = r.Create(ctx, &domain.Policy{ID: "a", Enabled: true, CreatedAt: now.Add(time.Second)})
	_ = r.Create(ctx, &domain.Policy{ID: "b", Enabled: false, CreatedAt: now})
	_ = r.Create(ctx, &domain.Policy{ID: "c", Enabled: true, CreatedAt: now})
	list, _ := r.ListEnabled(ctx)
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "a" {
		t.Errorf("ListEnabled = %+v", list)
	}
}
