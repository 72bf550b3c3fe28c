package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptySecret = errors.New("secret cannot be empty")
	ErrEmptyHash   = errors.New("hash cannot be empty")
)

// BcryptHasher hashes client secrets with bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher; a cost outside bcrypt's range uses the default
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash hashes a secret
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Verify checks a secret against a bcrypt hash using constant-time comparison
func (h *BcryptHasher) Verify(hash, secret string) error {
	if hash == "" {
		return ErrEmptyHash
	}
	if secret == "" {
		return ErrEmptySecret
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// HashToken returns the hex SHA-256 digest used to index opaque tokens,
// so raw authorization codes and refresh tokens are never kept in memory maps.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateSecret returns n random bytes encoded as unpadded base64url
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("secret length must be positive")
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
