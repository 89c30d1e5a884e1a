package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
)

func enrollVerifiedTOTP(t *testing.T, f *engineFixture, principalID string) *TOTPEnrollment {
	t.Helper()
	ctx := context.Background()

	enrollment, err := f.engine.EnrollTOTP(ctx, principalID, "alice@example.com")
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	if enrollment.SecretBase32 == "" || enrollment.ProvisionURI == "" {
		t.Fatalf("incomplete enrollment: %+v", enrollment)
	}

	code := totpCode(t, enrollment.SecretBase32, f.clock.Now())
	if err := f.engine.VerifyTOTPEnrollment(ctx, enrollment.MethodID, code); err != nil {
		t.Fatalf("VerifyTOTPEnrollment failed: %v", err)
	}
	return enrollment
}

func TestTOTPLoginFlow(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	enrollment := enrollVerifiedTOTP(t, f, id)

	res, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.MFARequired || res.Challenge == nil || res.Tokens != nil {
		t.Fatalf("expected pending MFA challenge, got %+v", res)
	}
	if res.Challenge.Type != mfa.MethodTOTP {
		t.Fatalf("challenge type = %s, want totp", res.Challenge.Type)
	}

	// The enrollment proof consumed the current step; move to the next one.
	f.clock.Advance(30 * time.Second)

	if _, err := f.engine.VerifyChallenge(ctx, res.Challenge.ID, "000000"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("wrong code: %v", err)
	}

	code := totpCode(t, enrollment.SecretBase32, f.clock.Now())
	verification, err := f.engine.VerifyChallenge(ctx, res.Challenge.ID, code)
	if err != nil {
		t.Fatalf("VerifyChallenge failed: %v", err)
	}
	if verification.Tokens == nil {
		t.Fatal("expected tokens after MFA completion")
	}

	validation, err := f.engine.Validate(verification.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if validation.PrincipalID != id {
		t.Fatalf("principal claim = %s, want %s", validation.PrincipalID, id)
	}
}

func TestTOTPStepReplayRejected(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	enrollment := enrollVerifiedTOTP(t, f, id)

	res, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// The enrollment already burned this step; replaying its code must fail
	// even though the code itself is correct.
	code := totpCode(t, enrollment.SecretBase32, f.clock.Now())
	if _, err := f.engine.VerifyChallenge(ctx, res.Challenge.ID, code); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
}

func TestChallengeExhaustion(t *testing.T) {
	ctx := context.Background()
	cfg := engineTestConfig()
	cfg.MFA.MaxAttempts = 2
	f := newTestEngine(t, cfg)

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	enrollVerifiedTOTP(t, f, id)

	res, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := f.engine.VerifyChallenge(ctx, res.Challenge.ID, "000000"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("first wrong attempt: %v", err)
	}
	if _, err := f.engine.VerifyChallenge(ctx, res.Challenge.ID, "000000"); !errors.Is(err, ErrChallengeExhausted) {
		t.Fatalf("expected exhaustion on final attempt, got %v", err)
	}
	// The challenge is terminal now, even for a correct guess.
	if _, err := f.engine.VerifyChallenge(ctx, res.Challenge.ID, "000000"); !errors.Is(err, ErrChallengeExhausted) {
		t.Fatalf("expected terminal exhausted state, got %v", err)
	}
}

func TestBackupCodeLoginSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	enrollVerifiedTOTP(t, f, id)

	codes, err := f.engine.GenerateBackupCodes(ctx, id)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if len(codes) != f.engine.config.MFA.BackupCodeCount {
		t.Fatalf("generated %d codes, want %d", len(codes), f.engine.config.MFA.BackupCodeCount)
	}

	res, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	verification, err := f.engine.VerifyBackupCode(ctx, res.Challenge.ID, codes[0])
	if err != nil {
		t.Fatalf("VerifyBackupCode failed: %v", err)
	}
	if verification.Tokens == nil {
		t.Fatal("expected tokens from backup-code login")
	}
	if verification.BackupCodesRemaining != len(codes)-1 {
		t.Fatalf("remaining = %d, want %d", verification.BackupCodesRemaining, len(codes)-1)
	}
	if verification.LowBackupCodes {
		t.Fatal("pool is not low yet")
	}

	// The same code never verifies twice.
	res, err = f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	if _, err := f.engine.VerifyBackupCode(ctx, res.Challenge.ID, codes[0]); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("expected ErrBackupCodeInvalid on reuse, got %v", err)
	}
}

func TestRegenerateBackupCodesRequiresTOTPProof(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	enrollment := enrollVerifiedTOTP(t, f, id)

	if _, err := f.engine.RegenerateBackupCodes(ctx, id, "000000"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected rejection without valid proof, got %v", err)
	}

	f.clock.Advance(30 * time.Second)
	code := totpCode(t, enrollment.SecretBase32, f.clock.Now())
	codes, err := f.engine.RegenerateBackupCodes(ctx, id, code)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(codes) == 0 {
		t.Fatal("expected fresh pool")
	}
}

func TestEmailMethodEnrollAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")

	enrollment, err := f.engine.EnrollMethod(ctx, id, mfa.MethodEmail, "alice@example.com")
	if err != nil {
		t.Fatalf("EnrollMethod failed: %v", err)
	}
	if enrollment.Challenge == nil || enrollment.Challenge.Type != mfa.MethodEmail {
		t.Fatalf("unexpected enrollment challenge: %+v", enrollment)
	}

	// Unverified methods are never used for login.
	res, err := f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.MFARequired {
		t.Fatal("unverified method must not gate login")
	}

	if _, err := f.engine.VerifyChallenge(ctx, enrollment.Challenge.ID, f.sender.lastCode(t)); err != nil {
		t.Fatalf("enrollment VerifyChallenge failed: %v", err)
	}

	res, err = f.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "acme")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.MFARequired || res.Challenge.Type != mfa.MethodEmail {
		t.Fatalf("expected email challenge, got %+v", res)
	}

	verification, err := f.engine.VerifyChallenge(ctx, res.Challenge.ID, f.sender.lastCode(t))
	if err != nil {
		t.Fatalf("login VerifyChallenge failed: %v", err)
	}
	if verification.Tokens == nil {
		t.Fatal("expected tokens after email MFA")
	}
}

func TestListMethodsScrubsSecrets(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	enrollVerifiedTOTP(t, f, id)

	methods, err := f.engine.ListMethods(ctx, id)
	if err != nil {
		t.Fatalf("ListMethods failed: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("methods = %d, want 1", len(methods))
	}
	if methods[0].Secret != nil {
		t.Fatal("secret leaked through ListMethods")
	}
	if !methods[0].Verified || !methods[0].Primary {
		t.Fatalf("expected verified primary method, got %+v", methods[0])
	}
}
