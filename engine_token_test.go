package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loginTokens(t *testing.T, f *engineFixture, identifier, password, orgScope string) *TokenPair {
	t.Helper()

	res, err := f.engine.Login(context.Background(), identifier, password, orgScope)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Tokens == nil {
		t.Fatalf("expected tokens, got %+v", res)
	}
	return res.Tokens
}

func TestRefreshRotationAndReuseDetection(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	first := loginTokens(t, f, "alice@example.com", "correct-horse-battery", "acme")

	second, err := f.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token did not rotate")
	}
	if second.FamilyID != first.FamilyID {
		t.Fatalf("family changed across rotation: %s vs %s", second.FamilyID, first.FamilyID)
	}

	// Replaying the rotated-out token revokes the whole family.
	if _, err := f.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}

	// The current token dies with the family.
	if _, err := f.engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after reuse, got %v", err)
	}

	sessions, err := f.engine.ListSessions(ctx, id)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("active sessions after reuse = %d, want 0", len(sessions))
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	if _, err := f.engine.Refresh(ctx, "not-a-refresh-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRevokeAndLogout(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	first := loginTokens(t, f, "alice@example.com", "correct-horse-battery", "acme")
	second := loginTokens(t, f, "alice@example.com", "correct-horse-battery", "acme")

	if err := f.engine.Revoke(ctx, first.RefreshToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	sessions, err := f.engine.ListSessions(ctx, id)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].FamilyID != second.FamilyID {
		t.Fatalf("unexpected surviving sessions: %+v", sessions)
	}

	revoked, err := f.engine.Logout(ctx, id)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("Logout revoked %d families, want 1", revoked)
	}

	sessions, err = f.engine.ListSessions(ctx, id)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions after logout = %d, want 0", len(sessions))
	}
}

func TestRevokeRequiresMatchingSecret(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	tokens := loginTokens(t, f, "alice@example.com", "correct-horse-battery", "acme")

	rotated, err := f.engine.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// The rotated-out secret no longer matches; revocation is refused rather
	// than letting a stale token kill the live session.
	if err := f.engine.Revoke(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for stale secret, got %v", err)
	}

	if err := f.engine.Revoke(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Revoke with current secret failed: %v", err)
	}
}

func TestValidateExpiredAccessToken(t *testing.T) {
	f := newTestEngine(t, engineTestConfig())

	f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")

	// Issue in the past so the token is already beyond its TTL.
	f.clock.Advance(-time.Hour)
	tokens := loginTokens(t, f, "alice@example.com", "correct-horse-battery", "acme")

	validation, err := f.engine.Validate(tokens.AccessToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if validation.Valid || validation.Reason != "expired" {
		t.Fatalf("unexpected validation: %+v", validation)
	}
}

func TestValidateTamperedToken(t *testing.T) {
	f := newTestEngine(t, engineTestConfig())

	f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	tokens := loginTokens(t, f, "alice@example.com", "correct-horse-battery", "acme")

	tampered := tokens.AccessToken[:len(tokens.AccessToken)-2] + "xx"
	validation, err := f.engine.Validate(tampered)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if validation.Valid || validation.Reason != "invalid" {
		t.Fatalf("unexpected validation: %+v", validation)
	}
}
