package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	authcore "github.com/stef9github/ReactDjango-Hub-sub008"
)

// Emit appends one audit event. The table is append-only: nothing in this
// package updates or deletes rows, and retention is an external concern.
func (s *Store) Emit(ctx context.Context, event authcore.AuditEvent) error {
	metadata := ""
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, ts, action, actor_id, target, org_scope,
			family_id, ip, outcome, kind, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, toMillis(event.Timestamp), event.Action, event.ActorID,
		event.Target, event.OrgScope, event.FamilyID, event.IP,
		string(event.Outcome), event.Kind, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AuditEventsFor returns a principal's events in emission order, bounded by
// limit. Intended for operator tooling and tests.
func (s *Store) AuditEventsFor(ctx context.Context, actorID string, limit int) ([]authcore.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, action, actor_id, target, org_scope, family_id, ip, outcome, kind, metadata
		FROM audit_events
		WHERE actor_id = ?
		ORDER BY id
		LIMIT ?`, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []authcore.AuditEvent
	for rows.Next() {
		var event authcore.AuditEvent
		var ts int64
		var outcome, metadata string
		if err := rows.Scan(
			&event.ID, &ts, &event.Action, &event.ActorID, &event.Target,
			&event.OrgScope, &event.FamilyID, &event.IP, &outcome, &event.Kind, &metadata,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Timestamp = time.UnixMilli(ts).UTC()
		event.Outcome = authcore.AuditOutcome(outcome)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
