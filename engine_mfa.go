package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/rate"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/secrets"
	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
)

const loginPurpose = mfa.PurposeLogin

// MethodEnrollment is the outcome of enrolling a dispatchable method: the
// unverified method plus the challenge that will confirm ownership of the
// destination.
type MethodEnrollment struct {
	MethodID  string
	Challenge *ChallengeInfo
}

// EnrollMethod registers an email or sms factor and dispatches a
// confirmation code to the destination. The method stays unverified (and is
// never used for login) until VerifyChallenge succeeds on the returned
// challenge.
func (e *Engine) EnrollMethod(ctx context.Context, principalID string, methodType mfa.MethodType, destination string) (*MethodEnrollment, error) {
	if e.methods == nil {
		return nil, ErrMFANotConfigured
	}
	if !methodType.Dispatchable() {
		return nil, ErrMFANotConfigured
	}
	if destination == "" {
		return nil, ErrChallengeInvalid
	}

	record, err := e.activePrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if err := e.rateGate(ctx, rate.ActionMFAChallenge, principalID, e.config.RateLimit.MFAChallenge); err != nil {
		return nil, err
	}

	method := mfa.Method{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Type:        methodType,
		Destination: destination,
		CreatedAt:   e.now(),
	}
	if err := e.methods.CreateMethod(ctx, method); err != nil {
		return nil, storeErr(err)
	}

	info, err := e.openChallenge(ctx, record, method, mfa.PurposeEnroll)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{
		Action:   "mfa_enroll",
		ActorID:  principalID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"method_type": string(methodType)},
	})

	return &MethodEnrollment{MethodID: method.ID, Challenge: info}, nil
}

// EnrollTOTP registers a TOTP factor and returns the shared secret and
// otpauth:// URI exactly once. The method activates after VerifyTOTPEnrollment
// proves the authenticator produces matching codes.
func (e *Engine) EnrollTOTP(ctx context.Context, principalID, accountLabel string) (*TOTPEnrollment, error) {
	if e.methods == nil {
		return nil, ErrMFANotConfigured
	}

	record, err := e.activePrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	method := mfa.Method{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Type:        mfa.MethodTOTP,
		Secret:      raw,
		CreatedAt:   e.now(),
	}
	if err := e.sealMethodSecret(&method); err != nil {
		return nil, err
	}
	if err := e.methods.CreateMethod(ctx, method); err != nil {
		return nil, storeErr(err)
	}

	e.emit(ctx, audit.Event{
		Action:   "mfa_enroll",
		ActorID:  principalID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"method_type": string(mfa.MethodTOTP)},
	})

	return &TOTPEnrollment{
		MethodID:     method.ID,
		SecretBase32: encoded,
		ProvisionURI: e.totp.ProvisionURI(encoded, accountLabel),
	}, nil
}

// VerifyTOTPEnrollment activates a pending TOTP method once the
// authenticator proves it derives matching codes.
func (e *Engine) VerifyTOTPEnrollment(ctx context.Context, methodID, code string) error {
	if e.methods == nil {
		return ErrMFANotConfigured
	}

	method, err := e.methods.GetMethod(ctx, methodID)
	if err != nil {
		return methodErr(err)
	}
	if method.Type != mfa.MethodTOTP || method.Verified {
		return ErrChallengeInvalid
	}

	if err := e.verifyTOTPCode(ctx, &method, code); err != nil {
		return err
	}

	if err := e.activateMethod(ctx, method); err != nil {
		return err
	}

	e.emit(ctx, audit.Event{
		Action:  "mfa_enroll_verified",
		ActorID: method.PrincipalID,
		Outcome: audit.OutcomeSuccess,
		Metadata: map[string]string{
			"method_type": string(mfa.MethodTOTP),
			"method_id":   methodID,
		},
	})
	return nil
}

// IssueChallenge opens a fresh login-purpose challenge against a verified
// method, e.g. after a previous challenge expired.
func (e *Engine) IssueChallenge(ctx context.Context, principalID, methodID string) (*ChallengeInfo, error) {
	if e.methods == nil {
		return nil, ErrMFANotConfigured
	}

	record, err := e.activePrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if err := e.rateGate(ctx, rate.ActionMFAChallenge, principalID, e.config.RateLimit.MFAChallenge); err != nil {
		return nil, err
	}

	method, err := e.methods.GetMethod(ctx, methodID)
	if err != nil {
		return nil, methodErr(err)
	}
	if method.PrincipalID != principalID || !method.Verified {
		return nil, ErrMFANotConfigured
	}
	if err := e.openMethodSecret(&method); err != nil {
		return nil, err
	}

	return e.openChallenge(ctx, record, method, loginPurpose)
}

// VerifyChallenge finishes a challenge. Attempts are burned atomically
// before any comparison, so concurrent guesses cannot share the final slot.
// For login-purpose challenges a token pair is issued on success.
func (e *Engine) VerifyChallenge(ctx context.Context, challengeID, code string) (*MFAVerification, error) {
	challenge, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, challengeErr(err)
	}

	switch challenge.Purpose {
	case mfa.PurposeLogin, mfa.PurposeEnroll, mfa.PurposeEmailVerify:
	default:
		// Password-reset challenges are finished by CompletePasswordReset,
		// which also needs the replacement password.
		return nil, ErrChallengeInvalid
	}

	if challenge.Type == mfa.MethodTOTP {
		err = e.consumeTOTPChallenge(ctx, challenge, code)
	} else {
		err = e.consumeChallengeCode(ctx, challengeID, code)
	}
	if err != nil {
		e.metrics.challengeVerified("failure")
		e.emit(ctx, audit.Event{
			Action:   "mfa_verify",
			ActorID:  challenge.PrincipalID,
			OrgScope: challenge.OrgScope,
			Outcome:  audit.OutcomeFailure,
			Kind:     auditKindFor(err),
		})
		return nil, err
	}

	e.metrics.challengeVerified("success")
	return e.settleChallenge(ctx, challenge)
}

// VerifyBackupCode finishes a login-purpose challenge with a single-use
// recovery code instead of the challenged method. The code is consumed
// atomically; the same code never verifies twice.
func (e *Engine) VerifyBackupCode(ctx context.Context, challengeID, backupCode string) (*MFAVerification, error) {
	if e.methods == nil {
		return nil, ErrMFANotConfigured
	}

	challenge, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, challengeErr(err)
	}
	if challenge.Purpose != loginPurpose {
		return nil, ErrChallengeInvalid
	}

	// Burn an attempt first; backup-code guesses share the challenge budget.
	remaining, _, err := e.challenges.BeginVerify(ctx, challengeID, e.now())
	if err != nil {
		return nil, challengeErr(err)
	}

	left, ok, err := e.methods.ConsumeBackupCode(ctx, challenge.PrincipalID, secrets.HashCode(backupCode))
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		e.metrics.challengeVerified("failure")
		if remaining == 0 {
			_, _ = e.challenges.Exhaust(ctx, challengeID)
			return nil, ErrChallengeExhausted
		}
		return nil, ErrBackupCodeInvalid
	}

	won, err := e.challenges.Complete(ctx, challengeID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !won {
		return nil, ErrChallengeInvalid
	}

	e.metrics.challengeVerified("success")
	verification, err := e.settleChallenge(ctx, challenge)
	if err != nil {
		return nil, err
	}
	verification.BackupCodesRemaining = left
	verification.LowBackupCodes = left <= e.config.MFA.LowCodeWarning

	e.emit(ctx, audit.Event{
		Action:   "backup_code_used",
		ActorID:  challenge.PrincipalID,
		OrgScope: challenge.OrgScope,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"remaining": strconv.Itoa(left)},
	})

	return verification, nil
}

// GenerateBackupCodes mints a fresh pool of single-use recovery codes,
// replacing any previous pool. Plaintext codes are returned exactly once.
func (e *Engine) GenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	if e.methods == nil {
		return nil, ErrMFANotConfigured
	}
	if _, err := e.activePrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	return e.replaceBackupCodes(ctx, principalID)
}

// RegenerateBackupCodes replaces the pool, gated on a fresh TOTP proof so a
// hijacked session cannot silently rotate recovery codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, totpCode string) ([]string, error) {
	if e.methods == nil {
		return nil, ErrMFANotConfigured
	}
	if _, err := e.activePrincipal(ctx, principalID); err != nil {
		return nil, err
	}

	method, err := e.verifiedTOTPMethod(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := e.verifyTOTPCode(ctx, method, totpCode); err != nil {
		return nil, err
	}

	codes, err := e.replaceBackupCodes(ctx, principalID)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{
		Action:  "backup_codes_regenerated",
		ActorID: principalID,
		Outcome: audit.OutcomeSuccess,
	})
	return codes, nil
}

// ListMethods returns the principal's enrolled methods with secrets
// scrubbed.
func (e *Engine) ListMethods(ctx context.Context, principalID string) ([]mfa.Method, error) {
	if e.methods == nil {
		return nil, ErrMFANotConfigured
	}

	methods, err := e.methods.ListMethods(ctx, principalID)
	if err != nil {
		return nil, storeErr(err)
	}
	for i := range methods {
		methods[i].Secret = nil
	}
	return methods, nil
}

// RemoveMethod deletes an enrolled method.
func (e *Engine) RemoveMethod(ctx context.Context, principalID, methodID string) error {
	if e.methods == nil {
		return ErrMFANotConfigured
	}

	method, err := e.methods.GetMethod(ctx, methodID)
	if err != nil {
		return methodErr(err)
	}
	if method.PrincipalID != principalID {
		return ErrMFANotConfigured
	}
	if err := e.methods.DeleteMethod(ctx, methodID); err != nil {
		return storeErr(err)
	}

	e.emit(ctx, audit.Event{
		Action:   "mfa_method_removed",
		ActorID:  principalID,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"method_id": methodID, "method_type": string(method.Type)},
	})
	return nil
}

// ---- internals ----

// settleChallenge applies the side effect of a verified challenge and, for
// logins, issues the token pair.
func (e *Engine) settleChallenge(ctx context.Context, challenge *mfa.Challenge) (*MFAVerification, error) {
	switch challenge.Purpose {
	case mfa.PurposeLogin:
		record, err := e.activePrincipal(ctx, challenge.PrincipalID)
		if err != nil {
			return nil, err
		}
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
			Kind:     "mfa_completed",
		})
		return &MFAVerification{Tokens: tokens}, nil

	case mfa.PurposeEnroll:
		method, err := e.methods.GetMethod(ctx, challenge.MethodID)
		if err != nil {
			return nil, methodErr(err)
		}
		if err := e.activateMethod(ctx, method); err != nil {
			return nil, err
		}
		e.emit(ctx, audit.Event{
			Action:   "mfa_enroll_verified",
			ActorID:  challenge.PrincipalID,
			OrgScope: challenge.OrgScope,
			Outcome:  audit.OutcomeSuccess,
			Metadata: map[string]string{"method_id": challenge.MethodID},
		})
		return &MFAVerification{}, nil

	case mfa.PurposeEmailVerify:
		if err := e.directory.SetStatus(ctx, challenge.PrincipalID, StatusActive); err != nil {
			return nil, storeErr(err)
		}
		return &MFAVerification{}, nil

	default:
		return nil, ErrChallengeInvalid
	}
}

// openChallenge creates and, for dispatchable methods, delivers one
// challenge.
func (e *Engine) openChallenge(ctx context.Context, record PrincipalRecord, method mfa.Method, purpose mfa.Purpose) (*ChallengeInfo, error) {
	now := e.now()

	challenge := mfa.Challenge{
		ID:          uuid.NewString(),
		MethodID:    method.ID,
		PrincipalID: record.ID,
		OrgScope:    record.OrgScope,
		Type:        method.Type,
		Purpose:     purpose,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.MFA.ChallengeTTL),
		Attempts:    e.config.MFA.MaxAttempts,
		State:       mfa.StateCreated,
	}

	// TOTP challenges only track the attempt budget; the expected value is
	// derived from the shared secret at verify time. The stored hash is a
	// random filler that nothing can match.
	code, err := secrets.NumericCode(e.config.MFA.CodeDigits)
	if err != nil {
		return nil, err
	}
	challenge.CodeHash = secrets.HashCode(code)

	if err := e.challenges.Create(ctx, challenge, now); err != nil {
		return nil, storeErr(err)
	}

	if method.Type.Dispatchable() {
		if err := e.send(ctx, method.Destination, code); err != nil {
			return nil, err
		}
	}

	e.metrics.challengeIssued(string(method.Type))
	e.emit(ctx, audit.Event{
		Action:   "mfa_challenge_issued",
		ActorID:  record.ID,
		OrgScope: record.OrgScope,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"method_type": string(method.Type), "purpose": string(purpose)},
	})

	return &ChallengeInfo{
		ID:                challenge.ID,
		MethodID:          method.ID,
		Type:              method.Type,
		ExpiresAt:         challenge.ExpiresAt,
		AttemptsRemaining: challenge.Attempts,
	}, nil
}

// consumeTOTPChallenge burns one attempt and checks the code against the
// method's shared secret with the replay guard.
func (e *Engine) consumeTOTPChallenge(ctx context.Context, challenge *mfa.Challenge, code string) error {
	if e.methods == nil {
		return ErrMFANotConfigured
	}

	remaining, _, err := e.challenges.BeginVerify(ctx, challenge.ID, e.now())
	if err != nil {
		return challengeErr(err)
	}

	method, err := e.methods.GetMethod(ctx, challenge.MethodID)
	if err != nil {
		return methodErr(err)
	}

	if err := e.verifyTOTPCode(ctx, &method, code); err != nil {
		if remaining == 0 {
			_, _ = e.challenges.Exhaust(ctx, challenge.ID)
			return ErrChallengeExhausted
		}
		return err
	}

	won, err := e.challenges.Complete(ctx, challenge.ID)
	if err != nil {
		return storeErr(err)
	}
	if !won {
		return ErrChallengeInvalid
	}
	return nil
}

// verifyTOTPCode checks one code against the method secret and advances the
// accepted-counter watermark so the same time step never verifies twice.
func (e *Engine) verifyTOTPCode(ctx context.Context, method *mfa.Method, code string) error {
	if err := e.openMethodSecret(method); err != nil {
		return err
	}

	ok, step, err := e.totp.Verify(method.Secret, code, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrChallengeInvalid
	}

	lastStep, err := e.methods.GetTOTPCounter(ctx, method.ID)
	if err != nil {
		return storeErr(err)
	}
	if step <= lastStep {
		// Replay of an already-accepted step.
		return ErrChallengeInvalid
	}
	if err := e.methods.UpdateTOTPCounter(ctx, method.ID, step); err != nil {
		return storeErr(err)
	}
	return nil
}

func (e *Engine) replaceBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	count := e.config.MFA.BackupCodeCount
	codes := make([]string, 0, count)
	stored := make([]mfa.BackupCode, 0, count)

	for i := 0; i < count; i++ {
		code, err := secrets.AlphaCode(e.config.MFA.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		stored = append(stored, mfa.BackupCode{Hash: secrets.HashCode(code)})
	}

	if err := e.methods.ReplaceBackupCodes(ctx, principalID, stored); err != nil {
		return nil, storeErr(err)
	}
	return codes, nil
}

// primaryMFAMethod picks the factor to challenge at login: the primary
// verified method, else the first verified one, else nil.
func (e *Engine) primaryMFAMethod(ctx context.Context, principalID string) (*mfa.Method, error) {
	if e.methods == nil {
		return nil, nil
	}

	methods, err := e.methods.ListMethods(ctx, principalID)
	if err != nil {
		return nil, storeErr(err)
	}

	var fallback *mfa.Method
	for i := range methods {
		m := &methods[i]
		if !m.Verified || m.Type == mfa.MethodBackupCodes {
			continue
		}
		if m.Primary {
			if err := e.openMethodSecret(m); err != nil {
				return nil, err
			}
			return m, nil
		}
		if fallback == nil {
			fallback = m
		}
	}

	if fallback != nil {
		if err := e.openMethodSecret(fallback); err != nil {
			return nil, err
		}
	}
	return fallback, nil
}

// verifiedTOTPMethod returns the principal's verified TOTP method, secret
// opened.
func (e *Engine) verifiedTOTPMethod(ctx context.Context, principalID string) (*mfa.Method, error) {
	methods, err := e.methods.ListMethods(ctx, principalID)
	if err != nil {
		return nil, storeErr(err)
	}
	for i := range methods {
		if methods[i].Type == mfa.MethodTOTP && methods[i].Verified {
			return &methods[i], nil
		}
	}
	return nil, ErrTOTPProofRequired
}

// activateMethod marks a method verified and promotes it to primary when it
// is the principal's first usable factor.
func (e *Engine) activateMethod(ctx context.Context, method mfa.Method) error {
	if err := e.methods.MarkMethodVerified(ctx, method.ID); err != nil {
		return storeErr(err)
	}

	methods, err := e.methods.ListMethods(ctx, method.PrincipalID)
	if err != nil {
		return storeErr(err)
	}
	for _, m := range methods {
		if m.ID != method.ID && m.Verified && m.Primary {
			return nil
		}
	}
	return storeErr(e.methods.SetPrimaryMethod(ctx, method.PrincipalID, method.ID))
}

// activePrincipal loads a principal and requires active status.
func (e *Engine) activePrincipal(ctx context.Context, principalID string) (PrincipalRecord, error) {
	record, err := e.directory.GetPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return PrincipalRecord{}, ErrInvalidCredentials
		}
		return PrincipalRecord{}, storeErr(err)
	}

	switch record.Status {
	case StatusActive:
		return record, nil
	case StatusLocked:
		if e.now().Before(record.LockedUntil) {
			return PrincipalRecord{}, &AccountLockedError{Until: record.LockedUntil}
		}
		if err := e.directory.ClearLockout(ctx, record.ID); err != nil {
			return PrincipalRecord{}, storeErr(err)
		}
		record.Status = StatusActive
		return record, nil
	case StatusPendingVerification:
		return PrincipalRecord{}, ErrAccountUnverified
	default:
		return PrincipalRecord{}, ErrAccountDisabled
	}
}

// sealMethodSecret encrypts the shared secret at rest when a seal key is
// configured.
func (e *Engine) sealMethodSecret(method *mfa.Method) error {
	if e.sealer == nil || len(method.Secret) == 0 {
		return nil
	}
	sealed, err := e.sealer.Seal(method.Secret)
	if err != nil {
		return err
	}
	method.Secret = sealed
	return nil
}

func (e *Engine) openMethodSecret(method *mfa.Method) error {
	if e.sealer == nil || len(method.Secret) == 0 {
		return nil
	}
	opened, err := e.sealer.Open(method.Secret)
	if err != nil {
		return err
	}
	method.Secret = opened
	return nil
}

func methodErr(err error) error {
	if errors.Is(err, mfa.ErrMethodNotFound) {
		return ErrMFANotConfigured
	}
	return storeErr(err)
}
