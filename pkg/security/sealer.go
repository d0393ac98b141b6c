package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/subradar/subradar-backend/pkg/config"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrInvalidSealed signals a sealed value that cannot be opened with the configured key.
var ErrInvalidSealed = fmt.Errorf("invalid sealed value")

// Sealer encrypts short secrets such as OAuth tokens with NaCl secretbox.
type Sealer struct {
	key [keySize]byte
}

// NewSealer builds a Sealer from the base64 encoded 32-byte key in cfg.
func NewSealer(cfg config.CryptoConfig) (*Sealer, error) {
	if cfg.TokenKey == "" {
		return nil, fmt.Errorf("token encryption key is required")
	}
	raw, err := base64.StdEncoding.DecodeString(cfg.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("decode token key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("token key must be %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext and returns base64(nonce || box).
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrInvalidSealed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrInvalidSealed
	}
	return string(plain), nil
}

// GenerateKey returns a fresh base64 encoded key suitable for CryptoConfig.TokenKey.
func GenerateKey() (string, error) {
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}
