// Package pkce implements the RFC 7636 Proof Key for Code Exchange helpers
// used by the authorization server. Only the S256 method is supported.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// MethodS256 is the only accepted code_challenge_method.
	MethodS256 = "S256"

	MinVerifierLength = 43
	MaxVerifierLength = 128

	// DefaultCodeBytes is the amount of entropy in an authorization code.
	DefaultCodeBytes = 32
	minCodeBytes     = 16

	unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

var (
	ErrInvalidParameter  = errors.New("pkce: invalid parameter")
	ErrUnsupportedMethod = errors.New("pkce: unsupported code challenge method")
)

// GenerateCodeVerifier returns a random verifier of the given length drawn
// from the unreserved URI character set.
func GenerateCodeVerifier(length int) (string, error) {
	if length < MinVerifierLength || length > MaxVerifierLength {
		return "", fmt.Errorf("%w: verifier length %d outside [%d,%d]",
			ErrInvalidParameter, length, MinVerifierLength, MaxVerifierLength)
	}

	// Rejection sampling keeps the distribution uniform over the 66 characters.
	const limit = 256 - 256%len(unreserved)

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, unreserved[int(b)%len(unreserved)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}

// ComputeCodeChallenge derives the challenge for verifier using method.
func ComputeCodeChallenge(verifier, method string) (string, error) {
	if method != MethodS256 {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// VerifyCodeChallenge reports whether verifier hashes to challenge.
// It never fails loudly: empty inputs, an unsupported method or any
// computation error simply mean "no match".
func VerifyCodeChallenge(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" || method == "" {
		return false
	}

	computed, err := ComputeCodeChallenge(verifier, method)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateCodeVerifier checks verifier length and character set.
func ValidateCodeVerifier(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			return false
		}
	}
	return true
}

// ValidateCodeChallenge checks the shape of a client supplied S256 challenge.
func ValidateCodeChallenge(challenge string) bool {
	// base64url(SHA-256) is always 43 characters, but RFC 7636 allows the
	// same bounds as the verifier.
	return ValidateCodeVerifier(challenge)
}

// GenerateAuthorizationCode returns a URL-safe random token built from
// numBytes of entropy. It is unrelated to any verifier/challenge pair.
func GenerateAuthorizationCode(numBytes int) (string, error) {
	if numBytes < minCodeBytes {
		return "", fmt.Errorf("%w: code needs at least %d random bytes", ErrInvalidParameter, minCodeBytes)
	}

	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
