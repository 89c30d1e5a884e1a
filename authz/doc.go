// Package authz resolves effective permissions from a frozen role catalog
// and live scoped assignments. Resolution is the union over currently-valid
// allow assignments; explicit denials override when configured. Snapshots
// cache per (principal, scope) with a TTL sized to the access token lifetime.
package authz
