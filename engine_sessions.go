package authcore

import (
	"context"

	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	"github.com/stef9github/ReactDjango-Hub-sub008/session"
)

// ListSessions returns the principal's active sessions for self-service
// review. Refresh hashes are scrubbed before the sessions leave the engine.
func (e *Engine) ListSessions(ctx context.Context, principalID string) ([]*session.Session, error) {
	sessions, err := e.sessions.List(ctx, principalID, e.now())
	if err != nil {
		return nil, storeErr(err)
	}
	for _, s := range sessions {
		s.RefreshHash = [32]byte{}
	}
	return sessions, nil
}

// RevokeSession deactivates one session family. Idempotent: revoking an
// already-revoked or unknown family reports found=false without error.
func (e *Engine) RevokeSession(ctx context.Context, familyID string) (bool, error) {
	found, err := e.sessions.Revoke(ctx, familyID)
	if err != nil {
		return false, storeErr(err)
	}
	if found {
		e.emit(ctx, audit.Event{
			Action:   "session_revoked",
			FamilyID: familyID,
			Outcome:  audit.OutcomeSuccess,
		})
	}
	return found, nil
}

// SweepExpired reclaims expired session rows for a principal. Optional
// hygiene; correctness never depends on it because expiry is evaluated
// lazily at read time.
func (e *Engine) SweepExpired(ctx context.Context, principalID string) (int, error) {
	reclaimed, err := e.sessions.SweepExpired(ctx, principalID, e.now())
	if err != nil {
		return reclaimed, storeErr(err)
	}
	return reclaimed, nil
}
