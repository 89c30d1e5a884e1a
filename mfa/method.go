package mfa

import (
	"context"
	"errors"
	"time"
)

// MethodType enumerates the supported second factors. Each type is a
// variant with its own secret format behind the shared challenge/verify
// flow; the format never leaks outside its variant.
type MethodType string

const (
	MethodEmail       MethodType = "email"
	MethodSMS         MethodType = "sms"
	MethodTOTP        MethodType = "totp"
	MethodBackupCodes MethodType = "backup_codes"
)

// Valid reports whether t is one of the supported method types.
func (t MethodType) Valid() bool {
	switch t {
	case MethodEmail, MethodSMS, MethodTOTP, MethodBackupCodes:
		return true
	}
	return false
}

// Dispatchable reports whether the variant delivers codes through an
// external channel. TOTP and backup codes verify locally.
func (t MethodType) Dispatchable() bool {
	return t == MethodEmail || t == MethodSMS
}

// Method is one enrolled factor. Secret holds the TOTP shared secret for
// totp methods (sealed at rest when a seal key is configured); Destination
// holds the address for email/sms methods.
type Method struct {
	ID          string
	PrincipalID string
	Type        MethodType
	Destination string
	Secret      []byte
	Verified    bool
	Primary     bool
	CreatedAt   time.Time
}

// BackupCode is the stored form of a single-use recovery code: hash only,
// plus the consumption flag that makes each code single-use.
type BackupCode struct {
	Hash [32]byte
	Used bool
}

// MethodStore persists enrolled factors. Implementations must make
// ConsumeBackupCode atomic per code so the same code never verifies twice.
type MethodStore interface {
	CreateMethod(ctx context.Context, m Method) error
	GetMethod(ctx context.Context, methodID string) (Method, error)
	ListMethods(ctx context.Context, principalID string) ([]Method, error)
	MarkMethodVerified(ctx context.Context, methodID string) error
	SetPrimaryMethod(ctx context.Context, principalID, methodID string) error
	DeleteMethod(ctx context.Context, methodID string) error
	ReplaceBackupCodes(ctx context.Context, principalID string, codes []BackupCode) error
	// ConsumeBackupCode marks the matching unused code consumed and
	// returns how many remain. ok is false when no unused code matches.
	ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte) (remaining int, ok bool, err error)
	UpdateTOTPCounter(ctx context.Context, methodID string, counter int64) error
	GetTOTPCounter(ctx context.Context, methodID string) (int64, error)
}

// ErrMethodNotFound is returned by stores for unknown method ids.
var ErrMethodNotFound = errors.New("mfa method not found")

// ErrDeliveryFailed is the retryable condition a Sender reports when the
// external channel could not deliver the code. It is never swallowed.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Sender is the external notification boundary (email or SMS provider).
// Implementations live outside the core.
type Sender interface {
	Send(ctx context.Context, destination, code string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, destination, code string) error

func (f SenderFunc) Send(ctx context.Context, destination, code string) error {
	return f(ctx, destination, code)
}
