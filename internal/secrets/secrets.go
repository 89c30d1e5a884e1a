package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// FamilyID identifies one refresh-token family. It doubles as the session
// registry key, so it must stay compact and URL-safe.
type FamilyID [16]byte

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 48
)

// ErrTokenMalformed is returned when an opaque token cannot be decoded.
var ErrTokenMalformed = errors.New("malformed opaque token")

func NewFamilyID() (FamilyID, error) {
	var fid FamilyID
	_, err := rand.Read(fid[:])
	return fid, err
}

func (f FamilyID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(f[:])
}

func ParseFamilyID(id string) (FamilyID, error) {
	var fid FamilyID

	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return fid, ErrTokenMalformed
	}
	if len(raw) != len(fid) {
		return fid, ErrTokenMalformed
	}

	copy(fid[:], raw)
	return fid, nil
}

// NewRefreshSecret draws the 256-bit secret half of a refresh token.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashRefreshSecret is what the session registry stores; the plaintext
// secret only ever exists inside the issued token.
func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs family id + secret into one opaque string.
func EncodeRefreshToken(familyID string, secret [refreshSecretSize]byte) (string, error) {
	fid, err := ParseFamilyID(familyID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(fid)], fid[:])
	copy(raw[len(fid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, ErrTokenMalformed
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, ErrTokenMalformed
	}

	var fid FamilyID
	copy(fid[:], raw[:len(fid)])
	copy(secret[:], raw[len(fid):])

	return fid.String(), secret, nil
}

// HashCode hashes a one-time challenge code for at-rest storage.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// ConstantTimeEqual compares two hashes without leaking a prefix length.
func ConstantTimeEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// NumericCode generates an n-digit decimal code with rejection sampling so
// every value is equally likely.
func NumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("code digits out of range")
	}

	out := make([]byte, digits)
	buf := make([]byte, 1)
	for i := 0; i < digits; {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		// 250 is the largest multiple of 10 below 256.
		if buf[0] >= 250 {
			continue
		}
		out[i] = '0' + buf[0]%10
		i++
	}
	return string(out), nil
}

// AlphaCode generates a backup-code style token from an unambiguous
// alphabet (no 0/O, 1/l, etc).
func AlphaCode(length int) (string, error) {
	const alphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	if length <= 0 {
		return "", errors.New("code length out of range")
	}

	out := make([]byte, length)
	buf := make([]byte, 1)
	for i := 0; i < length; {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if int(buf[0]) >= len(alphabet)*(256/len(alphabet)) {
			continue
		}
		out[i] = alphabet[int(buf[0])%len(alphabet)]
		i++
	}
	return string(out), nil
}
