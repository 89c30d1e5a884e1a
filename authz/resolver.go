package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Resolution is the effective permission snapshot for one (principal, scope)
// pair. Permissions and Roles are sorted so identical snapshots serialize
// identically into token claims.
type Resolution struct {
	Roles       []string
	Permissions []string
	Denied      []string
	ResolvedAt  time.Time
}

// Decision is one authorize verdict with the rule that produced it.
type Decision struct {
	Allowed bool
	Reason  string
}

// ResolverConfig tunes resolution behavior. DenyOverride defaults on: an
// explicit deny assignment beats any allow. CacheTTL should track the access
// token TTL; zero disables caching.
type ResolverConfig struct {
	DenyOverride bool
	CacheTTL     time.Duration
}

type cacheEntry struct {
	resolution Resolution
	expiresAt  time.Time
}

// Resolver computes effective permissions from the catalog plus a live
// assignment source, with a short-TTL snapshot cache.
type Resolver struct {
	catalog *Catalog
	source  AssignmentSource
	config  ResolverConfig

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

func NewResolver(catalog *Catalog, source AssignmentSource, cfg ResolverConfig) (*Resolver, error) {
	if catalog == nil || !catalog.Frozen() {
		return nil, ErrCatalogMutable
	}
	if source == nil {
		return nil, fmt.Errorf("assignment source required")
	}

	return &Resolver{
		catalog: catalog,
		source:  source,
		config:  cfg,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}, nil
}

func cacheKey(principalID, orgScope string) string {
	return principalID + "\x00" + orgScope
}

// Resolve returns the effective permission snapshot for a principal within
// one organization scope: the union over currently-valid allow assignments,
// minus nothing (denials are carried separately and applied at authorize
// time).
func (r *Resolver) Resolve(ctx context.Context, principalID, orgScope string) (Resolution, error) {
	now := r.now()

	if r.config.CacheTTL > 0 {
		r.mu.Lock()
		if entry, ok := r.cache[cacheKey(principalID, orgScope)]; ok && now.Before(entry.expiresAt) {
			r.mu.Unlock()
			return entry.resolution, nil
		}
		r.mu.Unlock()
	}

	assignments, err := r.source.AssignmentsFor(ctx, principalID, orgScope)
	if err != nil {
		return Resolution{}, fmt.Errorf("load assignments: %w", err)
	}

	roles := make(map[string]struct{})
	allowed := make(map[string]struct{})
	denied := make(map[string]struct{})

	for _, a := range assignments {
		if !a.ActiveAt(now, orgScope) {
			continue
		}
		perms, ok := r.catalog.RolePermissions(a.Role)
		if !ok {
			return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownRole, a.Role)
		}

		switch a.Effect {
		case EffectDeny:
			for _, p := range perms {
				denied[p] = struct{}{}
			}
		default:
			roles[a.Role] = struct{}{}
			for _, p := range perms {
				allowed[p] = struct{}{}
			}
		}
	}

	resolution := Resolution{
		Roles:       sortedKeys(roles),
		Permissions: sortedKeys(allowed),
		Denied:      sortedKeys(denied),
		ResolvedAt:  now,
	}

	if r.config.CacheTTL > 0 {
		r.mu.Lock()
		r.cache[cacheKey(principalID, orgScope)] = cacheEntry{
			resolution: resolution,
			expiresAt:  now.Add(r.config.CacheTTL),
		}
		r.mu.Unlock()
	}

	return resolution, nil
}

// Authorize answers whether the principal may perform action on resource
// within orgScope. With DenyOverride enabled an explicit deny on the
// permission (or the wildcard) wins over any allow.
func (r *Resolver) Authorize(ctx context.Context, principalID, orgScope, resource, action string) (Decision, error) {
	resolution, err := r.Resolve(ctx, principalID, orgScope)
	if err != nil {
		return Decision{}, err
	}

	perm := resource + ":" + action

	if r.config.DenyOverride {
		if matches(resolution.Denied, perm, resource) {
			return Decision{Allowed: false, Reason: "explicit deny on " + perm}, nil
		}
	}

	if matches(resolution.Permissions, perm, resource) {
		return Decision{Allowed: true, Reason: "granted " + perm}, nil
	}

	return Decision{Allowed: false, Reason: "no grant for " + perm}, nil
}

// Invalidate drops cached snapshots for a principal across all scopes. Call
// it after assignment changes so new tokens see fresh permissions.
func (r *Resolver) Invalidate(principalID string) {
	prefix := principalID + "\x00"

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(r.cache, key)
		}
	}
}

// matches checks an exact permission, a resource-level wildcard
// ("resource:*") and the global wildcard.
func matches(perms []string, perm, resource string) bool {
	resourceAll := resource + ":" + Wildcard
	for _, p := range perms {
		if p == perm || p == Wildcard || p == resourceAll {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
