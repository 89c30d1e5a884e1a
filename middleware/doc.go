// Package middleware exposes net/http adapters over authcore.Engine.
//
// # Guards
//
//   - [Guard] — bearer-token authentication; injects the validated claims
//     into the request context.
//   - [RequirePermission] — permission enforcement on top of Guard, with
//     deny-override semantics.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication or authorization logic itself — all decisions
// are delegated to Engine.Validate and Engine.Authorize.
package middleware
