package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// SealKeyLength is the AES-256 key size
	SealKeyLength = 32
	// MinSigningKeyLength is the shortest HMAC key accepted
	MinSigningKeyLength = 16
)

// ErrSealedDataInvalid is returned when a sealed blob fails authentication
var ErrSealedDataInvalid = errors.New("sealed data is invalid")

// Store holds the credential signing key and the at-rest seal key.
// It is immutable after construction and safe for concurrent use.
type Store struct {
	signingKey []byte
	aead       cipher.AEAD
}

// NewStore creates a Store from a signing key and a 32-byte seal key
func NewStore(signingKey, sealKey []byte) (*Store, error) {
	if len(signingKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinSigningKeyLength, len(signingKey))
	}
	if len(sealKey) != SealKeyLength {
		return nil, fmt.Errorf("seal key must be exactly %d bytes, got %d", SealKeyLength, len(sealKey))
	}

	block, err := aes.NewCipher(sealKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	key := make([]byte, len(signingKey))
	copy(key, signingKey)

	return &Store{signingKey: key, aead: gcm}, nil
}

// DecodeKey parses a base64 (standard or raw URL) encoded key
func DecodeKey(encoded string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return key, nil
	}
	key, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("key is not valid base64: %w", err)
	}
	return key, nil
}

// GenerateKey returns n random bytes, base64 encoded
func GenerateKey(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// SigningKey returns the HMAC key used for credentials
func (s *Store) SigningKey() []byte {
	return s.signingKey
}

// Seal encrypts plaintext with AES-256-GCM. Output layout is nonce || ciphertext.
func (s *Store) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal
func (s *Store) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize+s.aead.Overhead() {
		return nil, ErrSealedDataInvalid
	}

	plaintext, err := s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrSealedDataInvalid
	}
	return plaintext, nil
}
