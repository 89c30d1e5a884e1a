package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// Sealer encrypts MFA secrets and destinations at rest with AES-256-GCM.
// The key never leaves engine configuration.
type Sealer struct {
	aead cipher.AEAD
}

var ErrSealCorrupt = errors.New("sealed payload corrupt")

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, errors.New("sealing key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil sealer")
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil sealer")
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, ErrSealCorrupt
	}

	nonce := sealed[:s.aead.NonceSize()]
	plaintext, err := s.aead.Open(nil, nonce, sealed[s.aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrSealCorrupt
	}

	return plaintext, nil
}
