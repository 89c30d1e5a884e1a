package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stef9github/ReactDjango-Hub-sub008/authz"
)

func TestRegisterVerifyLoginValidate(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	reg, err := f.engine.Register(ctx, RegisterParams{
		Identifier: "Alice@Example.com",
		Password:   "correct-horse-battery",
		OrgScope:   "acme",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	f.assignments.set(reg.PrincipalID, authz.Assignment{
		PrincipalID: reg.PrincipalID, Role: "viewer", OrgScope: "acme",
	})

	// Pending principals cannot sign in.
	if _, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme"); !errors.Is(err, ErrAccountUnverified) {
		t.Fatalf("expected ErrAccountUnverified, got %v", err)
	}

	if err := f.engine.VerifyEmail(ctx, reg.ChallengeID, f.sender.lastCode(t)); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	res, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.MFARequired || res.Tokens == nil {
		t.Fatalf("expected direct token issuance, got %+v", res)
	}

	validation, err := f.engine.Validate(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if validation.PrincipalID != reg.PrincipalID || validation.OrgScope != "acme" {
		t.Fatalf("unexpected claims: %+v", validation)
	}
	if len(validation.Roles) != 1 || validation.Roles[0] != "viewer" {
		t.Fatalf("roles = %v, want [viewer]", validation.Roles)
	}
	if len(validation.Permissions) != 1 || validation.Permissions[0] != "billing:read" {
		t.Fatalf("permissions = %v, want [billing:read]", validation.Permissions)
	}
	if validation.FamilyID != res.Tokens.FamilyID {
		t.Fatalf("family claim %q does not match issued family %q", validation.FamilyID, res.Tokens.FamilyID)
	}
}

func TestRegisterRejectsDuplicateAndWeakPassword(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")

	_, err := f.engine.Register(ctx, RegisterParams{
		Identifier: "alice@example.com",
		Password:   "another-long-password",
		OrgScope:   "acme",
	})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	_, err = f.engine.Register(ctx, RegisterParams{
		Identifier: "bob@example.com",
		Password:   "short",
		OrgScope:   "acme",
	})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")

	_, wrongPassword := f.engine.Login(ctx, "alice@example.com", "not-the-password", "acme")
	_, unknownUser := f.engine.Login(ctx, "mallory@example.com", "not-the-password", "acme")

	if !errors.Is(wrongPassword, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", wrongPassword)
	}
	if !errors.Is(unknownUser, ErrInvalidCredentials) {
		t.Fatalf("unknown identifier: %v", unknownUser)
	}
}

func TestLoginLockoutEscalation(t *testing.T) {
	ctx := context.Background()
	cfg := engineTestConfig()
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Duration = 15 * time.Minute
	cfg.RateLimit.Login = WindowLimit{Limit: 50, Window: time.Minute}
	f := newTestEngine(t, cfg)

	f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(ctx, "alice@example.com", "not-the-password", "acme"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// The correct password is rejected while the lock holds.
	_, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	var locked *AccountLockedError
	if !errors.As(err, &locked) || !locked.Until.After(f.clock.Now()) {
		t.Fatalf("expected lockout deadline in the future, got %v", err)
	}

	// Lock recovers lazily once the window elapses.
	f.clock.Advance(16 * time.Minute)
	res, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login after lockout expiry failed: %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("expected tokens after lockout expiry")
	}
}

func TestLoginRateLimited(t *testing.T) {
	ctx := context.Background()
	cfg := engineTestConfig()
	cfg.RateLimit.Login = WindowLimit{Limit: 2, Window: time.Minute}
	f := newTestEngine(t, cfg)

	f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")

	for i := 0; i < 2; i++ {
		if _, err := f.engine.Login(ctx, "alice@example.com", "not-the-password", "acme"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	_, err := f.engine.Login(ctx, "alice@example.com", "not-the-password", "acme")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var limited *RateLimitedError
	if !errors.As(err, &limited) || limited.RetryAfter <= 0 {
		t.Fatalf("expected retry-after hint, got %v", err)
	}
}

func TestLoginDisabledPrincipal(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	if err := f.directory.SetStatus(ctx, id, StatusDisabled); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if _, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}
