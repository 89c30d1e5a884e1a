package authz

import (
	"context"
	"time"
)

// Effect distinguishes grants from explicit denials.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Assignment binds a principal to a role inside one organization scope for a
// validity window. Zero ValidFrom means active since forever; zero ValidUntil
// means no expiry.
type Assignment struct {
	PrincipalID string
	Role        string
	OrgScope    string
	Effect      Effect
	ValidFrom   time.Time
	ValidUntil  time.Time
}

// ActiveAt reports whether the assignment window contains now and the scope
// matches the requested one.
func (a Assignment) ActiveAt(now time.Time, orgScope string) bool {
	if a.OrgScope != orgScope {
		return false
	}
	if !a.ValidFrom.IsZero() && now.Before(a.ValidFrom) {
		return false
	}
	if !a.ValidUntil.IsZero() && !now.Before(a.ValidUntil) {
		return false
	}
	return true
}

// AssignmentSource supplies the current assignments for a principal. The
// SQLite store implements it; tests use in-memory fakes.
type AssignmentSource interface {
	AssignmentsFor(ctx context.Context, principalID, orgScope string) ([]Assignment, error)
}

// AssignmentSourceFunc adapts a function to the AssignmentSource interface.
type AssignmentSourceFunc func(ctx context.Context, principalID, orgScope string) ([]Assignment, error)

func (f AssignmentSourceFunc) AssignmentsFor(ctx context.Context, principalID, orgScope string) ([]Assignment, error) {
	return f(ctx, principalID, orgScope)
}
