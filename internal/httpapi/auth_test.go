package httpapi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
)

type accountStub struct {
	accounts map[string]domain.AttendantAccount
	err      error
}

func (s *accountStub) GetAttendant(_ context.Context, code string) (*domain.AttendantAccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	account, ok := s.accounts[strings.ToLower(code)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func mustHashPIN(t *testing.T, pin string) string {
	t.Helper()
	hash, err := HashPIN(pin)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	return hash
}

func TestLoginIssuesTokenCarryingOutlet(t *testing.T) {
	accounts := &accountStub{accounts: map[string]domain.AttendantAccount{
		"att7": {Code: "att7", Role: domain.RoleAttendant, Outlet: "Baraka", PINHash: mustHashPIN(t, "2468"), Active: true},
	}}
	manager := NewAuthManager("test-secret", time.Hour, accounts)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Code: " ATT7 ", PIN: "2468"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Outlet != "Baraka" || resp.Role != domain.RoleAttendant {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Code != "att7" || actor.Outlet != "Baraka" || actor.Role != domain.RoleAttendant {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginRejectsWrongPINAndInactiveAccount(t *testing.T) {
	accounts := &accountStub{accounts: map[string]domain.AttendantAccount{
		"att7": {Code: "att7", Role: domain.RoleAttendant, PINHash: mustHashPIN(t, "2468"), Active: true},
		"old":  {Code: "old", Role: domain.RoleAttendant, PINHash: mustHashPIN(t, "2468"), Active: false},
		"raw":  {Code: "raw", Role: domain.RoleAttendant, PINHash: "2468", Active: true},
	}}
	manager := NewAuthManager("test-secret", time.Hour, accounts)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Code: "att7", PIN: "0000"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Code: "nobody", PIN: "2468"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown code, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Code: "raw", PIN: "2468"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("plain-text PINs must never match, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Code: "old", PIN: "2468"}); err == nil {
		t.Fatalf("expected inactive account to be refused")
	}
}

func TestLoginSurfacesAmbiguousCode(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &accountStub{
		err: &store.AmbiguousCodeError{Code: "att1", Matches: 2},
	})

	_, err := manager.Login(context.Background(), domain.LoginRequest{Code: "att1", PIN: "1111"})
	var ambiguous *store.AmbiguousCodeError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected ambiguous code error, got %v", err)
	}
	if ambiguous.Matches != 2 {
		t.Fatalf("expected 2 matches, got %d", ambiguous.Matches)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	accounts := &accountStub{accounts: map[string]domain.AttendantAccount{
		"admin": {Code: "admin", Role: domain.RoleAdmin, PINHash: mustHashPIN(t, "4321"), Active: true},
	}}
	issuer := NewAuthManager("secret-one", time.Hour, accounts)
	verifier := NewAuthManager("secret-two", time.Hour, accounts)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Code: "admin", PIN: "4321"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}
