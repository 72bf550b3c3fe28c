package jwt

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// GenerateSigningKey generates a random HMAC key of the given size
func GenerateSigningKey(size int) ([]byte, error) {
	if size < MinKeyLength {
		return nil, fmt.Errorf("key size must be at least %d bytes", MinKeyLength)
	}

	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	return key, nil
}

// SaveSigningKey writes the key hex-encoded to path with owner-only permissions
func SaveSigningKey(key []byte, path string) error {
	if len(key) < MinKeyLength {
		return fmt.Errorf("key must be at least %d bytes", MinKeyLength)
	}

	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write signing key file: %w", err)
	}

	return nil
}

// LoadSigningKeyFromFile loads an HMAC key from a file
func LoadSigningKeyFromFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.New("file does not exist")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key file: %w", err)
	}

	return parseSigningKey(data)
}

// LoadSigningKeyFromEnv loads an HMAC key from an environment variable
func LoadSigningKeyFromEnv(varName string) ([]byte, error) {
	data := os.Getenv(varName)
	if data == "" {
		return nil, fmt.Errorf("environment variable %s is not set", varName)
	}

	return parseSigningKey([]byte(data))
}

// LoadSigningKey prefers the environment variable and falls back to the file.
func LoadSigningKey(path, varName string) ([]byte, error) {
	if varName != "" && os.Getenv(varName) != "" {
		return LoadSigningKeyFromEnv(varName)
	}
	if path == "" {
		return nil, errors.New("no signing key source configured")
	}
	return LoadSigningKeyFromFile(path)
}

// parseSigningKey accepts hex-encoded or raw key material
func parseSigningKey(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)

	if decoded, err := hex.DecodeString(string(data)); err == nil && len(decoded) >= MinKeyLength {
		return decoded, nil
	}

	if len(data) < MinKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)
	}

	return data, nil
}
