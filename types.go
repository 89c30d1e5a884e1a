package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
)

// PrincipalStatus is the lifecycle state of a principal. Transitions are
// status flips only; principals are never hard-deleted so audit references
// stay resolvable.
type PrincipalStatus string

const (
	StatusPendingVerification PrincipalStatus = "pending_verification"
	StatusActive              PrincipalStatus = "active"
	StatusLocked              PrincipalStatus = "locked"
	StatusDisabled            PrincipalStatus = "disabled"
)

// PrincipalRecord is the durable identity row behind the credential
// boundary. PasswordHash is PHC-encoded; the engine never stores plaintext.
type PrincipalRecord struct {
	ID           string
	Identifier   string
	OrgScope     string
	PasswordHash string
	Status       PrincipalStatus
	FailedLogins int
	LockedUntil  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Locked reports whether a lockout window is still in effect.
func (p PrincipalRecord) Locked(now time.Time) bool {
	return p.Status == StatusLocked && now.Before(p.LockedUntil)
}

var (
	// ErrPrincipalNotFound is the directory-level miss; login flows map it
	// to ErrInvalidCredentials before it reaches callers.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalExists is returned on identifier collisions.
	ErrPrincipalExists = errors.New("principal already exists")
)

// PrincipalDirectory is the durable credential store boundary. The SQLite
// store implements it; deployments may substitute their own backend.
// RecordLoginFailure must be atomic so concurrent wrong-password attempts
// count exactly.
type PrincipalDirectory interface {
	CreatePrincipal(ctx context.Context, record PrincipalRecord) error
	GetPrincipal(ctx context.Context, id string) (PrincipalRecord, error)
	FindByIdentifier(ctx context.Context, identifier, orgScope string) (PrincipalRecord, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetStatus(ctx context.Context, id string, status PrincipalStatus) error
	// RecordLoginFailure increments the failure counter and returns the new
	// count.
	RecordLoginFailure(ctx context.Context, id string) (int, error)
	ClearLoginFailures(ctx context.Context, id string) error
	// SetLockout flips the principal to locked until the given time.
	SetLockout(ctx context.Context, id string, until time.Time) error
	// ClearLockout restores active status and zeroes the failure counter.
	ClearLockout(ctx context.Context, id string) error
}

// TokenPair is one issued credential set: a short-lived stateless access
// token plus the opaque rotating refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
}

// TokenValidation is the stateless validation result consumed by
// surrounding services. When Valid is false, Reason holds the explicit
// invalid/expired cause.
type TokenValidation struct {
	Valid       bool
	PrincipalID string
	OrgScope    string
	FamilyID    string
	Roles       []string
	Permissions []string
	ExpiresAt   time.Time
	Reason      string
}

// ChallengeInfo describes an issued MFA challenge without exposing the code.
type ChallengeInfo struct {
	ID                string
	MethodID          string
	Type              mfa.MethodType
	ExpiresAt         time.Time
	AttemptsRemaining int
}

// LoginResult is the outcome of a successful password stage. Either Tokens
// is set, or MFARequired is true and Challenge names the pending second
// factor.
type LoginResult struct {
	PrincipalID string
	MFARequired bool
	Challenge   *ChallengeInfo
	Tokens      *TokenPair
}

// MFAVerification is the outcome of a challenge verification. Tokens is set
// for login-purpose challenges; BackupCodesRemaining and LowBackupCodes are
// populated for backup-code verification.
type MFAVerification struct {
	Tokens               *TokenPair
	BackupCodesRemaining int
	LowBackupCodes       bool
}

// TOTPEnrollment is returned when a TOTP method is created: the shared
// secret (shown once) and the otpauth:// provisioning URI.
type TOTPEnrollment struct {
	MethodID     string
	SecretBase32 string
	ProvisionURI string
}
