// Package authcore is an embeddable identity and access core: password
// authentication with Argon2id, access/refresh token pairs with rotation
// and reuse detection, session family registry, multi-factor challenges
// (email, sms, totp, backup codes), scoped role/permission resolution,
// sliding-window rate limiting with lockout escalation, and an append-only
// audit pipeline.
//
// Hot state (sessions, challenges, rate windows) lives in Redis so
// correctness holds across service instances; durable state (principals,
// methods, assignments, audit events) sits behind provider interfaces with
// a reference SQLite implementation in store/sqlite.
//
// Construct an engine through the Builder:
//
//	engine, err := authcore.New().
//		WithRedis(client).
//		WithDirectory(store).
//		WithMethodStore(store).
//		WithAssignments(store).
//		WithSender(mailer).
//		WithPermissions([]string{"billing:read", "billing:write"}).
//		WithRoles(map[string][]string{"viewer": {"billing:read"}}).
//		Build()
//
// Consuming services embed the engine directly; transports, UIs and
// federation are outside this module.
package authcore
