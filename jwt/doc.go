// Package jwt wraps github.com/golang-jwt/jwt/v5 with the access-token
// claim model used by the identity core. Access tokens are short-lived and
// self-contained: identity, organization scope, and the role/permission
// snapshot taken at issuance, validated without a store round-trip.
package jwt
