package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dlddu/gim-auth/internal/domain"
)

var (
	ErrEmptyHeader        = errors.New("authorization header is empty")
	ErrInvalidScheme      = errors.New("invalid authorization scheme")
	ErrInvalidBase64      = errors.New("invalid base64 encoding")
	ErrInvalidCredentials = errors.New("invalid credentials format")
	ErrEmptyClientID      = errors.New("client_id cannot be empty")
	ErrMultipleMethods    = errors.New("client used more than one authentication method")
	ErrEmptyToken         = errors.New("bearer token is empty")
)

// ClientCredentials are the client authentication parameters of a token,
// revocation or registration request.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	// Method is the token endpoint auth method the request used.
	Method string
}

// ParseBasicAuth parses a Basic Authentication header and returns client_id and client_secret.
// Both parts are form-urlencoded before base64 per RFC 6749 section 2.3.1.
func ParseBasicAuth(header string) (clientID, clientSecret string, err error) {
	if header == "" {
		return "", "", ErrEmptyHeader
	}

	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", ErrInvalidScheme
	}

	encoded := strings.TrimSpace(header[len(prefix):])
	if encoded == "" {
		return "", "", ErrInvalidBase64
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", ErrInvalidBase64
	}

	// Split by first colon only (secret can contain colons)
	rawID, rawSecret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", ErrInvalidCredentials
	}

	if clientID, err = url.QueryUnescape(rawID); err != nil {
		return "", "", ErrInvalidCredentials
	}
	if clientSecret, err = url.QueryUnescape(rawSecret); err != nil {
		return "", "", ErrInvalidCredentials
	}

	if clientID == "" {
		return "", "", ErrEmptyClientID
	}

	return clientID, clientSecret, nil
}

// ExtractClientCredentials reads client authentication from the Basic
// header or the form body. The request form must already be parsed.
func ExtractClientCredentials(r *http.Request) (ClientCredentials, error) {
	if header := r.Header.Get("Authorization"); header != "" && strings.HasPrefix(strings.ToLower(header), "basic ") {
		if r.PostForm.Get("client_secret") != "" {
			return ClientCredentials{}, ErrMultipleMethods
		}

		id, secret, err := ParseBasicAuth(header)
		if err != nil {
			return ClientCredentials{}, err
		}
		if formID := r.PostForm.Get("client_id"); formID != "" && formID != id {
			return ClientCredentials{}, ErrInvalidCredentials
		}

		return ClientCredentials{ClientID: id, ClientSecret: secret, Method: domain.AuthMethodClientSecretBasic}, nil
	}

	id := r.PostForm.Get("client_id")
	if id == "" {
		return ClientCredentials{}, ErrEmptyClientID
	}

	secret := r.PostForm.Get("client_secret")
	if secret == "" {
		return ClientCredentials{ClientID: id, Method: domain.AuthMethodNone}, nil
	}

	return ClientCredentials{ClientID: id, ClientSecret: secret, Method: domain.AuthMethodClientSecretPost}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrEmptyHeader
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidScheme
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}
