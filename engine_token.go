package authcore

import (
	"context"
	"errors"

	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/secrets"
	"github.com/stef9github/ReactDjango-Hub-sub008/jwt"
	"github.com/stef9github/ReactDjango-Hub-sub008/session"
)

// Validate checks an access token on the stateless fast path: signature and
// expiry only, no store lookup. Revoked families are not consulted; the
// short access TTL bounds the exposure, which is why AccessTTL is capped at
// configuration time.
func (e *Engine) Validate(token string) (TokenValidation, error) {
	claims, err := e.jwtManager.Parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return TokenValidation{Reason: "expired"}, ErrTokenExpired
		}
		return TokenValidation{Reason: "invalid"}, ErrTokenInvalid
	}

	validation := TokenValidation{
		Valid:       true,
		PrincipalID: claims.PrincipalID,
		OrgScope:    claims.OrgScope,
		FamilyID:    claims.FamilyID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		validation.ExpiresAt = claims.ExpiresAt.Time
	}
	return validation, nil
}

// Refresh rotates a refresh token: exactly one concurrent caller per family
// wins and receives a new pair. A token that has already been rotated out
// trips reuse detection — the whole family is revoked server-side and the
// caller gets ErrTokenReused. A race between two legitimate refreshes takes
// the same path on purpose; it is indistinguishable from a replayed theft.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	familyID, secret, err := secrets.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	nextSecret, err := secrets.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := e.now()
	extendTo := now.Add(e.config.Session.TTL)

	err = e.sessions.Rotate(ctx, familyID,
		secrets.HashRefreshSecret(secret),
		secrets.HashRefreshSecret(nextSecret),
		now, extendTo,
	)
	if err != nil {
		return nil, e.refreshFailure(ctx, familyID, err)
	}

	sess, err := e.sessions.Get(ctx, familyID, now)
	if err != nil {
		return nil, storeErr(err)
	}

	record, err := e.activePrincipal(ctx, sess.PrincipalID)
	if err != nil {
		// The principal was locked or disabled after the session began;
		// the rotation already advanced, so close the family out.
		_, _ = e.sessions.Revoke(ctx, familyID)
		return nil, err
	}

	resolution, err := e.resolver.Resolve(ctx, record.ID, record.OrgScope)
	if err != nil {
		return nil, storeErr(err)
	}

	accessToken, accessExpiry, err := e.jwtManager.Issue(
		record.ID, record.OrgScope, familyID,
		resolution.Roles, resolution.Permissions, now,
	)
	if err != nil {
		return nil, err
	}

	newRefresh, err := secrets.EncodeRefreshToken(familyID, nextSecret)
	if err != nil {
		return nil, err
	}

	e.metrics.refresh("success")
	e.emit(ctx, audit.Event{
		Action:   "token_refresh",
		ActorID:  record.ID,
		OrgScope: record.OrgScope,
		FamilyID: familyID,
		Outcome:  audit.OutcomeSuccess,
	})

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: extendTo,
		FamilyID:         familyID,
	}, nil
}

// refreshFailure maps rotation errors and emits the security audit trail
// for reuse detection.
func (e *Engine) refreshFailure(ctx context.Context, familyID string, err error) error {
	switch {
	case errors.Is(err, session.ErrReuseDetected):
		e.metrics.reuse()
		e.metrics.refresh("reuse")
		e.emit(ctx, audit.Event{
			Action:   "token_refresh",
			FamilyID: familyID,
			Outcome:  audit.OutcomeFailure,
			Kind:     AuditKindTokenReuse,
		})
		return ErrTokenReused
	case errors.Is(err, session.ErrFamilyExpired):
		e.metrics.refresh("expired")
		return ErrTokenExpired
	case errors.Is(err, session.ErrFamilyRevoked):
		e.metrics.refresh("revoked")
		return ErrTokenRevoked
	case errors.Is(err, session.ErrNotFound):
		e.metrics.refresh("invalid")
		return ErrTokenInvalid
	default:
		return storeErr(err)
	}
}

// Revoke deactivates the session family named by a refresh token. The
// provided secret must match the family's current one; revocation does not
// retroactively invalidate already-issued access tokens.
func (e *Engine) Revoke(ctx context.Context, refreshToken string) error {
	familyID, secret, err := secrets.DecodeRefreshToken(refreshToken)
	if err != nil {
		return ErrTokenInvalid
	}

	sess, err := e.sessions.Get(ctx, familyID, e.now())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return ErrTokenInvalid
		case errors.Is(err, session.ErrFamilyExpired):
			return ErrTokenExpired
		default:
			return storeErr(err)
		}
	}

	provided := secrets.HashRefreshSecret(secret)
	if !secrets.ConstantTimeEqual(provided, sess.RefreshHash) {
		return ErrTokenInvalid
	}

	if _, err := e.sessions.Revoke(ctx, familyID); err != nil {
		return storeErr(err)
	}

	e.emit(ctx, audit.Event{
		Action:   "token_revoke",
		ActorID:  sess.PrincipalID,
		OrgScope: sess.OrgScope,
		FamilyID: familyID,
		Outcome:  audit.OutcomeSuccess,
	})
	return nil
}

// Logout revokes every session family of a principal and returns how many
// were active.
func (e *Engine) Logout(ctx context.Context, principalID string) (int, error) {
	revoked, err := e.sessions.RevokeAll(ctx, principalID)
	if err != nil {
		return revoked, storeErr(err)
	}

	e.emit(ctx, audit.Event{
		Action:  "logout",
		ActorID: principalID,
		Outcome: audit.OutcomeSuccess,
	})
	return revoked, nil
}
