package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcAlgorithm = "argon2id"

// Params are the Argon2id cost parameters. Memory is in KiB.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the RFC 9106 low-memory recommendation.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies credentials using Argon2id with PHC-encoded
// output, so parameters travel with the hash and can be upgraded later.
type Hasher struct {
	params Params
}

var (
	errHashFormat    = errors.New("invalid credential hash format")
	errHashAlgorithm = errors.New("unsupported credential hash algorithm")
	errHashVersion   = errors.New("unsupported argon2 version")
	errWeakParams    = errors.New("argon2 parameters below minimum")
)

func NewHasher(p Params) (*Hasher, error) {
	if p.Memory < 8*1024 || p.Time < 1 || p.Parallelism < 1 {
		return nil, errWeakParams
	}
	if p.SaltLength < 16 || p.KeyLength < 16 {
		return nil, errWeakParams
	}
	return &Hasher{params: p}, nil
}

// Hash derives and PHC-encodes a credential hash with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash under the parameters embedded in encoded and
// compares in constant time.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	p, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the hasher is configured with. Callers rehash on the next successful
// verification, when the plaintext is available.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, _, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case p.Memory < h.params.Memory:
		return true, nil
	case p.Time < h.params.Time:
		return true, nil
	case p.Parallelism < h.params.Parallelism:
		return true, nil
	case uint32(len(key)) != h.params.KeyLength:
		return true, nil
	}
	return false, nil
}

func decodePHC(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, errHashFormat
	}
	if parts[1] != phcAlgorithm {
		return p, nil, nil, errHashAlgorithm
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, errHashFormat
	}
	if version != argon2.Version {
		return p, nil, nil, errHashVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return p, nil, nil, errHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return p, nil, nil, errHashFormat
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errHashFormat
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
