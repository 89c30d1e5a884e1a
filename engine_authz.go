package authcore

import (
	"context"

	"github.com/stef9github/ReactDjango-Hub-sub008/authz"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
)

// ResolvePermissions computes the effective permission snapshot for a
// principal within one organization scope. Results are cached with a TTL
// matching the access-token lifetime; the snapshot is what gets embedded in
// issued tokens.
func (e *Engine) ResolvePermissions(ctx context.Context, principalID, orgScope string) (authz.Resolution, error) {
	resolution, err := e.resolver.Resolve(ctx, principalID, orgScope)
	if err != nil {
		return authz.Resolution{}, storeErr(err)
	}
	return resolution, nil
}

// Authorize answers whether the principal may perform action on resource
// within orgScope. An explicit deny assignment always wins when deny
// override is enabled. Returns nil on allow, ErrPermissionDenied otherwise.
func (e *Engine) Authorize(ctx context.Context, principalID, orgScope, resource, action string) error {
	decision, err := e.resolver.Authorize(ctx, principalID, orgScope, resource, action)
	if err != nil {
		return storeErr(err)
	}
	if !decision.Allowed {
		e.emit(ctx, audit.Event{
			Action:   "authorize",
			ActorID:  principalID,
			OrgScope: orgScope,
			Target:   resource + ":" + action,
			Outcome:  audit.OutcomeFailure,
			Kind:     "permission_denied",
			Metadata: map[string]string{"reason": decision.Reason},
		})
		return ErrPermissionDenied
	}
	return nil
}

// InvalidatePermissions drops cached permission snapshots for a principal.
// Call after assignment changes so the next token issuance sees them.
func (e *Engine) InvalidatePermissions(principalID string) {
	e.resolver.Invalidate(principalID)
}
