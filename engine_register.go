package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/rate"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/secrets"
	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
)

// RegisterParams describes a new principal. Identifier is the login handle
// (typically an email address, which doubles as the verification channel).
type RegisterParams struct {
	Identifier string
	Password   string
	OrgScope   string
}

// Registration is the outcome of a successful Register call. The principal
// stays pending_verification until the emailed code is confirmed.
type Registration struct {
	PrincipalID string
	ChallengeID string
}

// Register creates a principal in pending_verification status and
// dispatches the verification code to the identifier address.
func (e *Engine) Register(ctx context.Context, params RegisterParams) (*Registration, error) {
	identifier := strings.ToLower(strings.TrimSpace(params.Identifier))
	if identifier == "" {
		return nil, ErrInvalidCredentials
	}
	if len(params.Password) < e.config.Password.MinLength {
		return nil, ErrPasswordPolicy
	}

	if err := e.rateGate(ctx, rate.ActionRegister, identifier, e.config.RateLimit.Register); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(params.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	record := PrincipalRecord{
		ID:           uuid.NewString(),
		Identifier:   identifier,
		OrgScope:     params.OrgScope,
		PasswordHash: hash,
		Status:       StatusPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.directory.CreatePrincipal(ctx, record); err != nil {
		if errors.Is(err, ErrPrincipalExists) {
			e.emit(ctx, audit.Event{
				Action:  "register",
				Target:  identifier,
				Outcome: audit.OutcomeFailure,
				Kind:    "duplicate_identifier",
			})
			return nil, ErrAccountExists
		}
		return nil, storeErr(err)
	}

	challengeID, err := e.dispatchVerification(ctx, record)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{
		Action:   "register",
		ActorID:  record.ID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
	})

	return &Registration{PrincipalID: record.ID, ChallengeID: challengeID}, nil
}

// RequestEmailVerification re-issues the verification challenge for a
// principal still pending verification.
func (e *Engine) RequestEmailVerification(ctx context.Context, principalID string) (string, error) {
	record, err := e.directory.GetPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", storeErr(err)
	}
	if record.Status != StatusPendingVerification {
		return "", ErrChallengeInvalid
	}

	if err := e.rateGate(ctx, rate.ActionMFAChallenge, record.Identifier, e.config.RateLimit.MFAChallenge); err != nil {
		return "", err
	}

	return e.dispatchVerification(ctx, record)
}

// VerifyEmail confirms the emailed code and activates the principal.
func (e *Engine) VerifyEmail(ctx context.Context, challengeID, code string) error {
	challenge, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return challengeErr(err)
	}
	if challenge.Purpose != mfa.PurposeEmailVerify {
		return ErrChallengeInvalid
	}

	if err := e.consumeChallengeCode(ctx, challengeID, code); err != nil {
		e.emit(ctx, audit.Event{
			Action:  "email_verify",
			ActorID: challenge.PrincipalID,
			Outcome: audit.OutcomeFailure,
			Kind:    auditKindFor(err),
		})
		return err
	}

	if err := e.directory.SetStatus(ctx, challenge.PrincipalID, StatusActive); err != nil {
		return storeErr(err)
	}

	e.emit(ctx, audit.Event{
		Action:  "email_verify",
		ActorID: challenge.PrincipalID,
		Outcome: audit.OutcomeSuccess,
	})
	return nil
}

// dispatchVerification creates an email_verify challenge and sends the code
// to the principal's identifier address.
func (e *Engine) dispatchVerification(ctx context.Context, record PrincipalRecord) (string, error) {
	code, err := secrets.NumericCode(e.config.MFA.CodeDigits)
	if err != nil {
		return "", err
	}

	now := e.now()
	challenge := mfa.Challenge{
		ID:          uuid.NewString(),
		PrincipalID: record.ID,
		OrgScope:    record.OrgScope,
		Type:        mfa.MethodEmail,
		Purpose:     mfa.PurposeEmailVerify,
		CodeHash:    secrets.HashCode(code),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.MFA.ChallengeTTL),
		Attempts:    e.config.MFA.MaxAttempts,
		State:       mfa.StateCreated,
	}
	if err := e.challenges.Create(ctx, challenge, now); err != nil {
		return "", storeErr(err)
	}

	if err := e.send(ctx, record.Identifier, code); err != nil {
		return "", err
	}

	return challenge.ID, nil
}

// send pushes a code through the external notification channel. Delivery
// failure is surfaced as retryable, never swallowed.
func (e *Engine) send(ctx context.Context, destination, code string) error {
	if e.sender == nil {
		return ErrDeliveryFailed
	}
	if err := e.sender.Send(ctx, destination, code); err != nil {
		e.emit(ctx, audit.Event{
			Action:  "notification_dispatch",
			Target:  destination,
			Outcome: audit.OutcomeFailure,
			Kind:    "delivery_failed",
		})
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// consumeChallengeCode burns one attempt and compares the code hash in
// constant time. On the final failed attempt the challenge is flipped to
// exhausted.
func (e *Engine) consumeChallengeCode(ctx context.Context, challengeID, code string) error {
	remaining, storedHash, err := e.challenges.BeginVerify(ctx, challengeID, e.now())
	if err != nil {
		return challengeErr(err)
	}

	if !secrets.ConstantTimeEqual(storedHash, secrets.HashCode(code)) {
		if remaining == 0 {
			_, _ = e.challenges.Exhaust(ctx, challengeID)
			return ErrChallengeExhausted
		}
		return ErrChallengeInvalid
	}

	won, err := e.challenges.Complete(ctx, challengeID)
	if err != nil {
		return storeErr(err)
	}
	if !won {
		// Another caller resolved this challenge first.
		return ErrChallengeInvalid
	}
	return nil
}

// challengeErr maps store-level challenge errors onto the public taxonomy.
func challengeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mfa.ErrChallengeNotFound), errors.Is(err, mfa.ErrChallengeConsumed):
		return ErrChallengeInvalid
	case errors.Is(err, mfa.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, mfa.ErrChallengeExhausted):
		return ErrChallengeExhausted
	default:
		return storeErr(err)
	}
}

func auditKindFor(err error) string {
	switch {
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeExhausted):
		return "challenge_exhausted"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "challenge_invalid"
	}
}
