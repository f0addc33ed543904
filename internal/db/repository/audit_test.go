package repository

import (
	"context"
	"testing"
	"time"

	"github.com/adamscao/ovpnpanel/internal/models"
)

func TestAuditRepositoryCreateAndList(t *testing.T) {
	repo := NewAuditRepository(openTestDB(t).DB)
	ctx := context.Background()

	entries := []*models.AuditLog{
		{Action: models.ActionClientAdd, Username: "admin", Client: "alice", ClientIP: "10.0.0.1", Success: true},
		{Action: models.ActionClientRevoke, Username: "admin", Client: "bob", ClientIP: "10.0.0.1", Success: false, ErrorMsg: "easyrsa failed"},
		{Action: models.ActionAuthFailed, ClientIP: "192.0.2.9"},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if e.ID == 0 {
			t.Fatal("expected id to be assigned")
		}
	}

	all, err := repo.List(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Action != models.ActionAuthFailed {
		t.Fatalf("expected newest first, got %+v", all)
	}

	bob, err := repo.List(ctx, AuditFilter{Client: "bob"})
	if err != nil {
		t.Fatalf("List by client: %v", err)
	}
	if len(bob) != 1 || bob[0].Success || bob[0].ErrorMsg != "easyrsa failed" {
		t.Fatalf("unexpected bob entries: %+v", bob)
	}
}

func TestAuditRepositoryCountFailedLogins(t *testing.T) {
	repo := NewAuditRepository(openTestDB(t).DB)
	ctx := context.Background()

	fail := func() {
		t.Helper()
		if err := repo.Create(ctx, &models.AuditLog{Action: models.ActionAuthFailed, ClientIP: "192.0.2.9"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	since := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		fail()
	}
	n, err := repo.CountFailedLogins(ctx, "192.0.2.9", since)
	if err != nil {
		t.Fatalf("CountFailedLogins: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 failures, got %d", n)
	}

	if n, _ := repo.CountFailedLogins(ctx, "192.0.2.9", time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("failures before since must not count, got %d", n)
	}

	if err := repo.Create(ctx, &models.AuditLog{Action: models.ActionLogin, ClientIP: "192.0.2.9", Success: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n, _ := repo.CountFailedLogins(ctx, "192.0.2.9", since); n != 0 {
		t.Fatalf("a successful login must start the count over, got %d", n)
	}
	fail()
	if n, _ := repo.CountFailedLogins(ctx, "192.0.2.9", since); n != 1 {
		t.Fatalf("expected 1 failure after the login, got %d", n)
	}

	n, _ = repo.CountFailedLogins(ctx, "198.51.100.1", time.Now().Add(-time.Hour))
	if n != 0 {
		t.Fatalf("other addresses must not count, got %d", n)
	}
}
