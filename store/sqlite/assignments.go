package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stef9github/ReactDjango-Hub-sub008/authz"
)

// AddAssignment binds a principal to a role within an organization scope.
// Zero validity bounds mean unbounded.
func (s *Store) AddAssignment(ctx context.Context, a authz.Assignment) error {
	effect := a.Effect
	if effect == "" {
		effect = authz.EffectAllow
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_assignments (id, principal_id, role, org_scope, effect, valid_from, valid_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), a.PrincipalID, a.Role, a.OrgScope, string(effect),
		toMillis(a.ValidFrom), toMillis(a.ValidUntil),
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// RemoveAssignments drops every binding of a role for a principal in one
// scope.
func (s *Store) RemoveAssignments(ctx context.Context, principalID, role, orgScope string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM role_assignments
		WHERE principal_id = ? AND role = ? AND org_scope = ?`,
		principalID, role, orgScope)
	if err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	return nil
}

// AssignmentsFor implements the authz.AssignmentSource boundary. Validity
// filtering happens in the resolver, which owns "now".
func (s *Store) AssignmentsFor(ctx context.Context, principalID, orgScope string) ([]authz.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal_id, role, org_scope, effect, valid_from, valid_until
		FROM role_assignments
		WHERE principal_id = ? AND org_scope = ?`,
		principalID, orgScope)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []authz.Assignment
	for rows.Next() {
		var a authz.Assignment
		var effect string
		var validFrom, validUntil int64
		if err := rows.Scan(&a.PrincipalID, &a.Role, &a.OrgScope, &effect, &validFrom, &validUntil); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Effect = authz.Effect(effect)
		a.ValidFrom = fromMillis(validFrom)
		a.ValidUntil = fromMillis(validUntil)
		out = append(out, a)
	}
	return out, rows.Err()
}
