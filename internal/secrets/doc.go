// Package secrets centralizes random material: family IDs, the opaque
// refresh-token codec, one-time code generation, audit event IDs, and the
// AES-GCM sealer for MFA secrets at rest.
//
// Nothing in this package performs I/O beyond reading crypto/rand.
package secrets
