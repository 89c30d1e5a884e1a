package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/rate"
)

// Login runs the password stage. With no verified MFA method enrolled it
// returns a token pair directly; otherwise it opens a login-purpose MFA
// challenge to be finished with VerifyChallenge.
//
// Unknown identifiers and wrong passwords are indistinguishable to the
// caller, in error value and in timing. Lockout and rate limiting are
// reported explicitly since both carry a retry hint the client needs.
func (e *Engine) Login(ctx context.Context, identifier, plaintext, orgScope string) (*LoginResult, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, ErrInvalidCredentials
	}

	if err := e.rateGate(ctx, rate.ActionLogin, identifier, e.config.RateLimit.Login); err != nil {
		return nil, err
	}

	record, err := e.directory.FindByIdentifier(ctx, identifier, orgScope)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			// Burn a real verification so response time does not reveal
			// whether the identifier exists.
			_, _ = e.hasher.Verify(plaintext, e.decoyHash)
			e.auditLoginFailure(ctx, "", identifier, "unknown_identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}

	now := e.now()

	if record.Status == StatusLocked {
		if now.Before(record.LockedUntil) {
			e.auditLoginFailure(ctx, record.ID, identifier, AuditKindLockout)
			return nil, &AccountLockedError{Until: record.LockedUntil}
		}
		// Lockout TTL elapsed; recover lazily at read time.
		if err := e.directory.ClearLockout(ctx, record.ID); err != nil {
			return nil, storeErr(err)
		}
		record.Status = StatusActive
		record.FailedLogins = 0
	}

	switch record.Status {
	case StatusActive:
	case StatusPendingVerification:
		e.auditLoginFailure(ctx, record.ID, identifier, "unverified")
		return nil, ErrAccountUnverified
	case StatusDisabled:
		e.auditLoginFailure(ctx, record.ID, identifier, "disabled")
		return nil, ErrAccountDisabled
	default:
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(plaintext, record.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.recordFailedPassword(ctx, record, identifier)
	}

	e.maybeRehash(ctx, record, plaintext)

	if record.FailedLogins > 0 {
		if err := e.directory.ClearLoginFailures(ctx, record.ID); err != nil {
			return nil, storeErr(err)
		}
	}
	_ = e.limiter.Reset(ctx, rate.ActionLogin, identifier)

	method, err := e.primaryMFAMethod(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		tokens, err := e.issueTokens(ctx, record)
		if err != nil {
			return nil, err
		}

		e.metrics.login("success")
		e.emit(ctx, audit.Event{
			Action:   "login",
			ActorID:  record.ID,
			OrgScope: record.OrgScope,
			FamilyID: tokens.FamilyID,
			Outcome:  audit.OutcomeSuccess,
		})
		return &LoginResult{PrincipalID: record.ID, Tokens: tokens}, nil
	}

	info, err := e.openChallenge(ctx, record, *method, loginPurpose)
	if err != nil {
		return nil, err
	}

	e.metrics.login("mfa_pending")
	e.emit(ctx, audit.Event{
		Action:   "login",
		ActorID:  record.ID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
		Kind:     "mfa_pending",
		Metadata: map[string]string{"method_type": string(method.Type)},
	})

	return &LoginResult{PrincipalID: record.ID, MFARequired: true, Challenge: info}, nil
}

// recordFailedPassword counts the failure atomically and escalates to a
// lockout at the configured threshold. The lock outlives the sliding
// window on purpose.
func (e *Engine) recordFailedPassword(ctx context.Context, record PrincipalRecord, identifier string) error {
	count, err := e.directory.RecordLoginFailure(ctx, record.ID)
	if err != nil {
		return storeErr(err)
	}

	if count >= e.config.Lockout.Threshold {
		until := e.now().Add(e.config.Lockout.Duration)
		if err := e.directory.SetLockout(ctx, record.ID, until); err != nil {
			return storeErr(err)
		}
		e.metrics.lockout()
		e.emit(ctx, audit.Event{
			Action:   "login",
			ActorID:  record.ID,
			OrgScope: record.OrgScope,
			Outcome:  audit.OutcomeFailure,
			Kind:     AuditKindLockout,
			Metadata: map[string]string{"failed_attempts": strconv.Itoa(count)},
		})
	} else {
		e.auditLoginFailure(ctx, record.ID, identifier, "wrong_password")
	}

	e.metrics.login("failure")
	return ErrInvalidCredentials
}

// maybeRehash upgrades the stored hash when parameters have strengthened
// since it was produced. Best-effort; login proceeds regardless.
func (e *Engine) maybeRehash(ctx context.Context, record PrincipalRecord, plaintext string) {
	outdated, err := e.hasher.NeedsRehash(record.PasswordHash)
	if err != nil || !outdated {
		return
	}
	rehash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	_ = e.directory.UpdatePasswordHash(ctx, record.ID, rehash)
}

func (e *Engine) auditLoginFailure(ctx context.Context, actorID, identifier, kind string) {
	e.metrics.login("failure")
	e.emit(ctx, audit.Event{
		Action:  "login",
		ActorID: actorID,
		Target:  identifier,
		Outcome: audit.OutcomeFailure,
		Kind:    kind,
	})
}
