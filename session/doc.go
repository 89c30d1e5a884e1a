// Package session is the Redis-backed session registry: one row per
// refresh-token family, a per-principal index for self-service review, and
// a Lua compare-and-swap script that serializes rotation per family so a
// replayed refresh token deterministically revokes the whole family.
package session
