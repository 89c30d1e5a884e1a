// Package mfa implements the multi-factor challenge engine: enrolled
// method variants (email, sms, totp, backup_codes), the Redis challenge
// store with atomic attempt accounting, and RFC 6238 TOTP derivation.
//
// Challenges move created → verified | expired | exhausted and never leave
// a terminal state. Attempt decrement happens before code comparison, in a
// single Redis script, so concurrent guesses cannot share the last slot.
package mfa
