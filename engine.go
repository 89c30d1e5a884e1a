package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stef9github/ReactDjango-Hub-sub008/authz"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/rate"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/secrets"
	"github.com/stef9github/ReactDjango-Hub-sub008/jwt"
	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
	"github.com/stef9github/ReactDjango-Hub-sub008/password"
	"github.com/stef9github/ReactDjango-Hub-sub008/session"
)

// Engine is the identity and access core. Construct it through Builder;
// a zero Engine is not usable. All methods are safe for concurrent use.
type Engine struct {
	config Config

	directory  PrincipalDirectory
	methods    mfa.MethodStore
	sessions   *session.Store
	challenges *mfa.ChallengeStore
	limiter    *rate.Limiter
	jwtManager *jwt.Manager
	hasher     *password.Hasher
	totp       *mfa.TOTP
	sealer     *secrets.Sealer
	catalog    *authz.Catalog
	resolver   *authz.Resolver
	sender     mfa.Sender
	audit      *audit.Dispatcher
	metrics    *Metrics

	// decoyHash burns a constant-cost verification for unknown identifiers
	// so timing never reveals whether a principal exists.
	decoyHash string

	now func() time.Time
}

// Close drains the audit pipeline. The engine is unusable afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports events dropped because the dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditLost reports events that reached neither the primary nor the
// fallback sink.
func (e *Engine) AuditLost() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Lost()
}

// emit queues one audit event, filling id, timestamp and request context.
func (e *Engine) emit(ctx context.Context, event audit.Event) {
	event.ID = secrets.NewEventID()
	event.Timestamp = e.now()
	if event.IP == "" {
		event.IP = ClientIP(ctx)
	}
	e.audit.Emit(event)
}

// rateGate consumes one slot from the shared sliding window and, when the
// client IP is known, from the per-IP window of the same action. Denials
// carry a retry-after hint and never reveal whether the key exists.
func (e *Engine) rateGate(ctx context.Context, action rate.Action, key string, budget WindowLimit) error {
	decision, err := e.limiter.Allow(ctx, action, key, budget.Limit, budget.Window)
	if err != nil {
		return storeErr(err)
	}
	if !decision.Allowed {
		e.metrics.limited(string(action))
		return &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	if ip := ClientIP(ctx); ip != "" && ip != key {
		decision, err = e.limiter.Allow(ctx, action, "ip:"+ip, budget.Limit, budget.Window)
		if err != nil {
			return storeErr(err)
		}
		if !decision.Allowed {
			e.metrics.limited(string(action))
			return &RateLimitedError{RetryAfter: decision.RetryAfter}
		}
	}

	return nil
}

// issueTokens mints a fresh session family and token pair for a principal
// whose authentication is complete.
func (e *Engine) issueTokens(ctx context.Context, principal PrincipalRecord) (*TokenPair, error) {
	now := e.now()

	resolution, err := e.resolver.Resolve(ctx, principal.ID, principal.OrgScope)
	if err != nil {
		return nil, storeErr(err)
	}

	familyID, err := secrets.NewFamilyID()
	if err != nil {
		return nil, err
	}
	secret, err := secrets.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	refreshExpiry := now.Add(e.config.Session.TTL)
	sess := &session.Session{
		FamilyID:     familyID.String(),
		PrincipalID:  principal.ID,
		OrgScope:     principal.OrgScope,
		Device:       Device(ctx),
		IP:           ClientIP(ctx),
		UserAgent:    UserAgent(ctx),
		RefreshHash:  secrets.HashRefreshSecret(secret),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    refreshExpiry,
		Active:       true,
	}
	if err := e.sessions.Save(ctx, sess, e.config.Session.TTL); err != nil {
		return nil, storeErr(err)
	}

	accessToken, accessExpiry, err := e.jwtManager.Issue(
		principal.ID, principal.OrgScope, sess.FamilyID,
		resolution.Roles, resolution.Permissions, now,
	)
	if err != nil {
		return nil, err
	}

	refreshToken, err := secrets.EncodeRefreshToken(sess.FamilyID, secret)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiry,
		FamilyID:         sess.FamilyID,
	}, nil
}

// storeErr maps backend transport failures onto the public sentinel while
// passing domain errors through untouched.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, rate.ErrRedisUnavailable),
		errors.Is(err, mfa.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}
