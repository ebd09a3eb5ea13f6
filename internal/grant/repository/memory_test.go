package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustlayer/internal/permission/domain"
)

func TestMemoryRepository_CreateFetchNotify(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	var changed []domain.Subject
	repo.Subscribe(func(s domain.Subject) { changed = append(changed, s) })

	direct := &domain.Grant{PrincipalID: "u1", Resource: "invoices", Action: "READ", Level: domain.Read, Granted: true,
		Source: domain.Source{Type: domain.SourceDirect}}
	role := &domain.Grant{PrincipalID: "viewer", Resource: "invoices", Action: "READ", Level: domain.Read, Granted: true,
		Source: domain.Source{Type: domain.SourceRole, ID: "viewer"}}
	if err := repo.Create(ctx, direct); err != nil {
		t.Fatalf("Create direct: %v", err)
	}
	if err := repo.Create(ctx, role); err != nil {
		t.Fatalf("Create role: %v", err)
	}
	if direct.ID == "" || direct.Status != domain.GrantActive {
		t.Errorf("Create should assign id and status, got %q %q", direct.ID, direct.Status)
	}

	got, _ := repo.FetchGrants(ctx, domain.Subject{Kind: domain.SubjectUser, ID: "u1"})
	if len(got) != 1 || got[0].ID != direct.ID {
		t.Errorf("user grants = %+v", got)
	}
	got, _ = repo.FetchGrants(ctx, domain.Subject{Kind: domain.SubjectRole, ID: "viewer"})
	if len(got) != 1 || got[0].ID != role.ID {
		t.Errorf("role grants = %+v", got)
	}

	ok, err := repo.SetStatus(ctx, direct.ID, domain.GrantRevoked, "admin", time.Now())
	if err != nil || !ok {
		t.Fatalf("SetStatus = %v, %v", ok, err)
	}
	g, _ := repo.GetByID(ctx, direct.ID)
	if g.Status != domain.GrantRevoked || g.UpdatedBy != "admin" {
		t.Errorf("after revoke: %+v", g)
	}
	if ok, _ := repo.SetStatus(ctx, "missing", domain.GrantRevoked, "admin", time.Now()); ok {
		t.Error("SetStatus on missing grant should report false")
	}

	want := []domain.Subject{
		{Kind: domain.SubjectUser, ID: "u1"},
		{Kind: domain.SubjectRole, ID: "viewer"},
		{Kind: domain.SubjectUser, ID: "u1"},
	}
	if len(changed) != len(want) {
		t.Fatalf("notifications = %+v", changed)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Errorf("notification %d = %+v, want %+v", i, changed[i], want[i])
		}
	}
}

func TestMemoryRepository_CreateRejectsInvalid(t *testing.T) {
	repo := NewMemoryRepository()
	err := repo.Create(context.Background(), &domain.Grant{PrincipalID: "u1", Resource: "", Action: "READ",
		Source: domain.Source{Type: domain.SourceDirect}})
	if !errors.Is(err, domain.ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
}
