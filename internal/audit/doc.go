// Package audit carries the append-only activity trail. Events flow
// through an async dispatcher into a pluggable sink, with a secondary
// durable sink as the fallback path; a persistence failure never fails or
// blocks the operation that emitted the event.
package audit
