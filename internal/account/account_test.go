package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"presence/internal/account"
	"presence/internal/auth"
	"presence/internal/presence"
	"presence/internal/store"
)

func newService(t *testing.T, key string) *account.Service {
	t.Helper()
	ms := store.NewMemory()
	tokens := auth.NewTokens("presence-test", "secret", time.Hour, 24*time.Hour)
	return account.NewService(ms, ms, tokens, key, nil, nil)
}

func TestRegisterAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, "k3y")

	if _, err := svc.RegisterAdmin(ctx, "boss", "pw", "wrong"); !errors.Is(err, account.ErrRegistrationKey) {
		t.Fatalf("expected ErrRegistrationKey, got %v", err)
	}
	if _, err := svc.RegisterAdmin(ctx, " ", "pw", "k3y"); !errors.Is(err, account.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	a, err := svc.RegisterAdmin(ctx, "boss", "pw", "k3y")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.ID == "" || a.CredentialHash == "pw" {
		t.Fatalf("admin not initialized: %+v", a)
	}
	if _, err := svc.RegisterAdmin(ctx, "boss", "pw2", "k3y"); !errors.Is(err, account.ErrDuplicateAdmin) {
		t.Fatalf("expected ErrDuplicateAdmin, got %v", err)
	}
}

func TestRegistrationDisabledWithoutKey(t *testing.T) {
	svc := newService(t, "")
	if _, err := svc.RegisterAdmin(context.Background(), "boss", "pw", ""); !errors.Is(err, account.ErrRegistrationKey) {
		t.Fatalf("expected ErrRegistrationKey, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, "k3y")
	admin, err := svc.RegisterAdmin(ctx, "boss", "pw", "k3y")
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if _, err := svc.RegisterParticipant(ctx, "S-1", "ada", "pw"); err != nil {
		t.Fatalf("register participant: %v", err)
	}
	if _, err := svc.RegisterParticipant(ctx, "S-1", "bob", "pw"); !errors.Is(err, presence.ErrDuplicateParticipant) {
		t.Fatalf("expected ErrDuplicateParticipant, got %v", err)
	}

	_, id, err := svc.Login(ctx, auth.RoleAdmin, "boss", "pw")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if id.Subject != admin.ID || id.Role != auth.RoleAdmin {
		t.Fatalf("unexpected identity %+v", id)
	}
	_, id, err = svc.Login(ctx, auth.RoleParticipant, "ada", "pw")
	if err != nil {
		t.Fatalf("participant login: %v", err)
	}
	if id.Subject != "S-1" {
		t.Fatalf("unexpected identity %+v", id)
	}

	bad := []struct {
		role, handle, password string
	}{
		{auth.RoleAdmin, "boss", "nope"},
		{auth.RoleAdmin, "ghost", "pw"},
		{auth.RoleParticipant, "ada", "nope"},
		{auth.RoleParticipant, "boss", "pw"},
	}
	for _, b := range bad {
		if _, _, err := svc.Login(ctx, b.role, b.handle, b.password); !errors.Is(err, account.ErrInvalidCredentials) {
			t.Fatalf("%s/%s: expected ErrInvalidCredentials, got %v", b.role, b.handle, err)
		}
	}
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, "k3y")
	if _, err := svc.RegisterParticipant(ctx, "S-1", "ada", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := svc.Login(ctx, auth.RoleParticipant, "ada", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, id, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if id.Subject != "S-1" || id.Role != auth.RoleParticipant {
		t.Fatalf("unexpected identity %+v", id)
	}
	if next.RefreshID == pair.RefreshID {
		t.Fatal("refresh token was not rotated")
	}

	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, account.ErrInvalidRefreshToken) {
		t.Fatalf("reused token: expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, account.ErrInvalidRefreshToken) {
		t.Fatalf("access token: expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, _, err := svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("rotated token: %v", err)
	}
}
