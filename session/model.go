package session

import "time"

// Session is one refresh-token family: exactly one registry row exists per
// family, and the stored refresh hash names the only secret that may rotate
// it next. Everything else is self-service review metadata.
type Session struct {
	FamilyID    string
	PrincipalID string
	OrgScope    string

	Device    string
	IP        string
	UserAgent string

	RefreshHash [32]byte

	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time

	Active    bool
	Rotations int64
}

// Expired reports lazy wall-clock expiry; no background sweep is required
// for correctness.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
