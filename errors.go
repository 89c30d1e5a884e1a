package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers wrong password and unknown identifier
	// alike; callers can never distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is in effect.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified is returned for principals still pending email
	// verification.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAccountDisabled is returned for administratively disabled principals.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountExists is returned when registration collides with an
	// existing identifier.
	ErrAccountExists = errors.New("account already exists")

	// ErrTokenInvalid covers malformed, forged, or unknown tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for structurally valid tokens past expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenReused signals refresh-token replay after rotation. The whole
	// session family has been revoked by the time callers observe it;
	// recovery requires full re-authentication.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrTokenRevoked is returned when the session family is inactive.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrSessionNotFound is returned for unknown session family ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrChallengeInvalid covers unknown challenges and wrong codes.
	ErrChallengeInvalid = errors.New("mfa challenge invalid")
	// ErrChallengeExpired is returned for challenges past their TTL.
	ErrChallengeExpired = errors.New("mfa challenge expired")
	// ErrChallengeExhausted is returned once the attempt budget is spent;
	// the caller must issue a new challenge.
	ErrChallengeExhausted = errors.New("mfa challenge attempts exhausted")
	// ErrMFARequired indicates the login needs a second factor.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFANotConfigured is returned when no method store was wired or the
	// principal has no usable method.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrBackupCodeInvalid is returned for unknown or already-used codes.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrTOTPProofRequired gates backup-code regeneration on a fresh TOTP
	// verification.
	ErrTOTPProofRequired = errors.New("backup code regeneration requires totp verification")

	// ErrRateLimited is returned when a sliding window is full.
	ErrRateLimited = errors.New("rate limited")
	// ErrPermissionDenied is the authorize verdict for missing or denied
	// permissions.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeliveryFailed surfaces a notification channel failure; the
	// operation is retryable.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrPasswordPolicy is returned for passwords below the configured
	// minimum.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrStoreUnavailable wraps backend (Redis/SQL) transport failures.
	ErrStoreUnavailable = errors.New("backend store unavailable")
	// ErrEngineNotReady is returned by operations on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError carries the retry-after hint alongside ErrRateLimited.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// AccountLockedError carries the lockout deadline alongside ErrAccountLocked.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }
