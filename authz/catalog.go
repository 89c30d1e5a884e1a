package authz

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Wildcard grants every registered permission. Reserve it for break-glass
// roles.
const Wildcard = "*"

var (
	ErrCatalogFrozen     = errors.New("catalog frozen")
	ErrCatalogMutable    = errors.New("catalog not frozen")
	ErrDuplicateEntry    = errors.New("already registered")
	ErrUnknownPermission = errors.New("permission not registered")
	ErrUnknownRole       = errors.New("role not registered")
)

// Catalog is the static role/permission vocabulary. Permissions are
// "resource:action" names; roles bind an ordered set of them. The catalog is
// populated at startup and frozen before any resolution runs, so reads after
// Freeze need no locking discipline from callers.
type Catalog struct {
	mu     sync.RWMutex
	perms  map[string]struct{}
	roles  map[string][]string
	frozen bool
}

func NewCatalog() *Catalog {
	return &Catalog{
		perms: make(map[string]struct{}),
		roles: make(map[string][]string),
	}
}

// RegisterPermission adds one "resource:action" name. Must happen before
// Freeze.
func (c *Catalog) RegisterPermission(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return ErrCatalogFrozen
	}
	if name == "" || name == Wildcard {
		return errors.New("invalid permission name")
	}
	if !strings.Contains(name, ":") {
		return errors.New("permission must be resource:action")
	}
	if _, exists := c.perms[name]; exists {
		return ErrDuplicateEntry
	}

	c.perms[name] = struct{}{}
	return nil
}

// RegisterRole binds a role name to registered permissions. The wildcard is
// accepted without prior registration.
func (c *Catalog) RegisterRole(name string, permissions []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return ErrCatalogFrozen
	}
	if name == "" {
		return errors.New("role name empty")
	}
	if _, exists := c.roles[name]; exists {
		return ErrDuplicateEntry
	}

	granted := make([]string, 0, len(permissions))
	seen := make(map[string]struct{}, len(permissions))
	for _, perm := range permissions {
		if _, dup := seen[perm]; dup {
			continue
		}
		if perm != Wildcard && !strings.HasSuffix(perm, ":"+Wildcard) {
			if _, ok := c.perms[perm]; !ok {
				return ErrUnknownPermission
			}
		}
		seen[perm] = struct{}{}
		granted = append(granted, perm)
	}
	sort.Strings(granted)

	c.roles[name] = granted
	return nil
}

// Freeze locks the catalog against further registration.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Frozen reports whether the catalog accepts registrations.
func (c *Catalog) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// RolePermissions returns the sorted permission set bound to a role.
func (c *Catalog) RolePermissions(role string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	perms, ok := c.roles[role]
	if !ok {
		return nil, false
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out, true
}

// HasPermission reports whether a permission name is registered.
func (c *Catalog) HasPermission(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.perms[name]
	return ok
}

// Permissions returns all registered permission names, sorted.
func (c *Catalog) Permissions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.perms))
	for name := range c.perms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Roles returns all registered role names, sorted.
func (c *Catalog) Roles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.roles))
	for name := range c.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
