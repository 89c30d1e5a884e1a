package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/rate"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/secrets"
	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
)

// ChangePassword rotates a credential with proof of the current one. Every
// session family is revoked so stolen refresh tokens die with the old
// password.
func (e *Engine) ChangePassword(ctx context.Context, principalID, current, replacement string) error {
	record, err := e.activePrincipal(ctx, principalID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(current, record.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.emit(ctx, audit.Event{
			Action:  "password_change",
			ActorID: principalID,
			Outcome: audit.OutcomeFailure,
			Kind:    "wrong_password",
		})
		return ErrInvalidCredentials
	}

	if err := e.applyNewPassword(ctx, record, current, replacement); err != nil {
		return err
	}

	e.emit(ctx, audit.Event{
		Action:   "password_change",
		ActorID:  principalID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
	})
	return nil
}

// RequestPasswordReset opens a reset challenge and dispatches the code to
// the identifier address. Unknown identifiers receive an indistinguishable
// response: a syntactically valid challenge id that no code will ever
// verify against.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier, orgScope string) (string, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return "", ErrChallengeInvalid
	}

	if err := e.rateGate(ctx, rate.ActionPasswordReset, identifier, e.config.RateLimit.PasswordReset); err != nil {
		return "", err
	}

	record, err := e.directory.FindByIdentifier(ctx, identifier, orgScope)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.emit(ctx, audit.Event{
				Action:  "password_reset_request",
				Target:  identifier,
				Outcome: audit.OutcomeFailure,
				Kind:    "unknown_identifier",
			})
			return uuid.NewString(), nil
		}
		return "", storeErr(err)
	}

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
		Purpose:     mfa.PurposePasswordReset,
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

	e.emit(ctx, audit.Event{
		Action:   "password_reset_request",
		ActorID:  record.ID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
	})
	return challenge.ID, nil
}

// CompletePasswordReset verifies the reset code and installs the new
// password, clearing any lockout and revoking all session families.
func (e *Engine) CompletePasswordReset(ctx context.Context, challengeID, code, replacement string) error {
	challenge, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return challengeErr(err)
	}
	if challenge.Purpose != mfa.PurposePasswordReset {
		return ErrChallengeInvalid
	}

	if err := e.consumeChallengeCode(ctx, challengeID, code); err != nil {
		e.emit(ctx, audit.Event{
			Action:  "password_reset",
			ActorID: challenge.PrincipalID,
			Outcome: audit.OutcomeFailure,
			Kind:    auditKindFor(err),
		})
		return err
	}

	record, err := e.directory.GetPrincipal(ctx, challenge.PrincipalID)
	if err != nil {
		return storeErr(err)
	}

	if err := e.applyNewPassword(ctx, record, "", replacement); err != nil {
		return err
	}

	// A completed reset is proof of channel ownership; lift any lockout so
	// the principal can sign in immediately.
	if record.Status == StatusLocked {
		if err := e.directory.ClearLockout(ctx, record.ID); err != nil {
			return storeErr(err)
		}
	}

	e.emit(ctx, audit.Event{
		Action:   "password_reset",
		ActorID:  record.ID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
	})
	return nil
}

// applyNewPassword validates policy, rejects reuse of the current
// credential, installs the hash, and revokes all session families.
func (e *Engine) applyNewPassword(ctx context.Context, record PrincipalRecord, current, replacement string) error {
	if len(replacement) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}
	if current != "" && replacement == current {
		return ErrPasswordPolicy
	}
	if current == "" {
		// Reset path: the old plaintext is unknown, compare against the
		// stored hash instead.
		same, err := e.hasher.Verify(replacement, record.PasswordHash)
		if err == nil && same {
			return ErrPasswordPolicy
		}
	}

	hash, err := e.hasher.Hash(replacement)
	if err != nil {
		return err
	}
	if err := e.directory.UpdatePasswordHash(ctx, record.ID, hash); err != nil {
		return storeErr(err)
	}

	if _, err := e.sessions.RevokeAll(ctx, record.ID); err != nil {
		return storeErr(err)
	}
	return nil
}
