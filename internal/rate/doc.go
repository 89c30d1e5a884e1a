// Package rate enforces sliding-window attempt budgets keyed by
// (action, identity-or-IP) in Redis, with an in-process fail-closed
// fallback for Redis outages. Check-and-increment is a single Lua script,
// so the last slot in a window is never granted twice.
package rate
