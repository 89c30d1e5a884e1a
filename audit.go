package authcore

import (
	"io"

	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
)

// AuditEvent is the immutable activity record emitted by every taxonomy
// operation. Aliased from the internal pipeline so sink implementations can
// live outside this module.
type AuditEvent = audit.Event

// AuditSink persists audit events. A returned error reroutes the event to
// the fallback sink; it never fails the operation that produced it.
type AuditSink = audit.Sink

// AuditOutcome labels an event success or failure.
type AuditOutcome = audit.Outcome

const (
	AuditSuccess = audit.OutcomeSuccess
	AuditFailure = audit.OutcomeFailure
)

// Audit event kinds emitted by the engine. Kind names the taxonomy member
// for failure events and the specific detection for security events.
const (
	AuditKindTokenReuse = "token_reuse_detected"
	AuditKindLockout    = "account_lockout"
)

// NewJSONLinesAuditSink writes one JSON event per line. Pointed at an
// append-only file it serves as the durable fallback queue.
func NewJSONLinesAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONLinesSink(w)
}

// NewChannelAuditSink bridges events into a channel, mainly for tests and
// custom pipelines.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
