package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/stef9github/ReactDjango-Hub-sub008/authz"
)

func TestAuthorizeDenyOverridesRoleGrant(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	f.assignments.set(id,
		authz.Assignment{PrincipalID: id, Role: "editor", OrgScope: "acme"},
		authz.Assignment{PrincipalID: id, Role: "writer", OrgScope: "acme", Effect: authz.EffectDeny},
	)

	if err := f.engine.Authorize(ctx, id, "acme", "billing", "read"); err != nil {
		t.Fatalf("billing:read should be allowed: %v", err)
	}

	// editor grants billing:write, but the deny assignment wins.
	if err := f.engine.Authorize(ctx, id, "acme", "billing", "write"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	resolution, err := f.engine.ResolvePermissions(ctx, id, "acme")
	if err != nil {
		t.Fatalf("ResolvePermissions failed: %v", err)
	}
	if len(resolution.Denied) != 1 || resolution.Denied[0] != "billing:write" {
		t.Fatalf("denied = %v, want [billing:write]", resolution.Denied)
	}
}

func TestAuthorizeScopeIsolation(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	f.assignments.set(id,
		authz.Assignment{PrincipalID: id, Role: "editor", OrgScope: "acme"},
	)

	if err := f.engine.Authorize(ctx, id, "acme", "billing", "write"); err != nil {
		t.Fatalf("in-scope authorize failed: %v", err)
	}
	// Grants do not leak across organization scopes.
	if err := f.engine.Authorize(ctx, id, "globex", "billing", "write"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied out of scope, got %v", err)
	}
}

func TestInvalidatePermissionsDropsCache(t *testing.T) {
	ctx := context.Background()
	f := newTestEngine(t, engineTestConfig())

	id := f.registerActive(t, "alice@example.com", "correct-horse-battery", "acme")
	f.assignments.set(id,
		authz.Assignment{PrincipalID: id, Role: "viewer", OrgScope: "acme"},
	)

	if err := f.engine.Authorize(ctx, id, "acme", "billing", "read"); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}

	// The snapshot is cached; a grant change is invisible until invalidated.
	f.assignments.set(id,
		authz.Assignment{PrincipalID: id, Role: "editor", OrgScope: "acme"},
	)
	if err := f.engine.Authorize(ctx, id, "acme", "billing", "write"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected cached snapshot to deny, got %v", err)
	}

	f.engine.InvalidatePermissions(id)
	if err := f.engine.Authorize(ctx, id, "acme", "billing", "write"); err != nil {
		t.Fatalf("Authorize after invalidation failed: %v", err)
	}
}
