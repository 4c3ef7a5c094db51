package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestTokensIssueAndValidate(t *testing.T) {
	tokens, err := NewTokens("test-secret", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	token, expiresAt, err := tokens.Issue(Account{ID: 42, Username: "admin", Role: "Admin"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := tokens.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if id, ok := claims.AccountID(); !ok || id != 42 {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Username != "admin" {
		t.Fatalf("unexpected username: %s", claims.Username)
	}
	if !slices.Contains(claims.Roles, "admin") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatal("expected token id")
	}
}

func TestTokensRejectInvalid(t *testing.T) {
	tokens, err := NewTokens("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	other, err := NewTokens("other-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, _, err := tokens.Issue(Account{ID: 1, Username: "admin", Role: "admin"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := other.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature rejection, got %v", err)
	}
	if _, err := tokens.ParseAndValidate(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected tamper rejection, got %v", err)
	}
	if _, err := tokens.ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected empty rejection, got %v", err)
	}

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tokens.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}

	if _, _, err := tokens.Issue(Account{}); err == nil {
		t.Fatal("expected error for missing account id")
	}
	if _, err := NewTokens("  ", time.Minute); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Admin", "Admin", "viewer"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "viewer") || !HasRole(ctx, "admin") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role found")
	}
}
