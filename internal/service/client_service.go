package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/auth"
	"github.com/dlddu/gim-auth/internal/crypto"
	"github.com/dlddu/gim-auth/internal/domain"
	"github.com/dlddu/gim-auth/internal/repository"
)

const clientSecretBytes = 32

// ClientRegistration is a dynamic client registration request (RFC 7591)
type ClientRegistration struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// RegisteredClient is the result of a registration. ClientSecret is the only
// copy of the plaintext secret and is empty for public clients.
type RegisteredClient struct {
	Client       *domain.Client
	ClientSecret string
}

// ClientService handles business logic for OAuth clients
type ClientService struct {
	repo            repository.ClientRepository
	hasher          Hasher
	supportedScopes []string
	now             func() time.Time
	logger          *zap.Logger
}

// NewClientService creates a new ClientService instance
func NewClientService(repo repository.ClientRepository, hasher Hasher, supportedScopes []string, opts ...Option) *ClientService {
	o := buildOptions(opts)
	return &ClientService{
		repo:            repo,
		hasher:          hasher,
		supportedScopes: append([]string(nil), supportedScopes...),
		now:             o.now,
		logger:          o.logger,
	}
}

// SupportedScopes returns the scopes a client may register for.
func (s *ClientService) SupportedScopes() []string {
	return append([]string(nil), s.supportedScopes...)
}

// RegisterClient validates the registration metadata and persists a new client
func (s *ClientService) RegisterClient(ctx context.Context, reg ClientRegistration) (*RegisteredClient, error) {
	const op = "service.client.RegisterClient"

	if len(reg.RedirectURIs) == 0 {
		return nil, NewInvalidRedirectURIError("at least one redirect_uri is required")
	}
	for _, uri := range reg.RedirectURIs {
		if err := ValidateRedirectURI(uri); err != nil {
			return nil, NewInvalidRedirectURIError(err.Error())
		}
	}

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{domain.GrantTypeAuthorizationCode, domain.GrantTypeRefreshToken}
	}
	if err := s.ValidateGrantTypes(grantTypes); err != nil {
		return nil, err
	}

	scopes := strings.Fields(reg.Scope)
	if len(scopes) == 0 {
		scopes = s.SupportedScopes()
	}
	for _, scope := range scopes {
		if !contains(s.supportedScopes, scope) {
			return nil, NewInvalidClientMetadataError(fmt.Sprintf("unsupported scope %q", scope))
		}
	}

	method := reg.TokenEndpointAuthMethod
	if method == "" {
		method = domain.AuthMethodNone
	}

	client := &domain.Client{
		ClientID:                uuid.NewString(),
		ClientName:              reg.ClientName,
		RedirectURIs:            append([]string(nil), reg.RedirectURIs...),
		GrantTypes:              dedupe(grantTypes),
		Scopes:                  dedupe(scopes),
		TokenEndpointAuthMethod: method,
		CreatedAt:               s.now().UTC(),
	}

	var secret string
	switch method {
	case domain.AuthMethodNone:
	case domain.AuthMethodClientSecretBasic, domain.AuthMethodClientSecretPost:
		var err error
		secret, err = crypto.GenerateSecret(clientSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		hash, err := s.hasher.Hash(secret)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		client.ClientSecretHash = hash
		client.IsConfidential = true
	default:
		return nil, NewInvalidClientMetadataError(fmt.Sprintf("unsupported token_endpoint_auth_method %q", method))
	}

	if err := s.repo.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("client registered",
		zap.String("client_id", client.ClientID),
		zap.String("auth_method", method),
		zap.Strings("redirect_uris", client.RedirectURIs),
	)

	return &RegisteredClient{Client: client, ClientSecret: secret}, nil
}

// AuthenticateClient verifies client credentials at the token and revocation
// endpoints. Every failure is invalid_client.
func (s *ClientService) AuthenticateClient(ctx context.Context, creds auth.ClientCredentials) (*domain.Client, error) {
	const op = "service.client.AuthenticateClient"

	if creds.ClientID == "" {
		return nil, NewInvalidClientError("client authentication required")
	}

	client, err := s.repo.GetByClientID(ctx, creds.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, NewInvalidClientError("unknown client")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !client.IsConfidential {
		if creds.ClientSecret != "" {
			return nil, NewInvalidClientError("public clients must not send a secret")
		}
		return client, nil
	}

	if creds.Method != client.TokenEndpointAuthMethod {
		return nil, NewInvalidClientError("client authentication method mismatch")
	}
	if err := s.hasher.Verify(client.ClientSecretHash, creds.ClientSecret); err != nil {
		s.logger.Debug("client secret rejected", zap.String("client_id", client.ClientID))
		return nil, NewInvalidClientError("invalid client credentials")
	}

	return client, nil
}

// GetClientByID retrieves a client by its client_id
func (s *ClientService) GetClientByID(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, repository.ErrClientNotFound
	}
	return s.repo.GetByClientID(ctx, clientID)
}

// ValidateGrantTypes accepts only the grants this server implements
func (s *ClientService) ValidateGrantTypes(grantTypes []string) error {
	for _, gt := range grantTypes {
		switch gt {
		case domain.GrantTypeAuthorizationCode, domain.GrantTypeRefreshToken:
		default:
			return NewInvalidClientMetadataError(fmt.Sprintf("unsupported grant_type %q", gt))
		}
	}
	if !contains(grantTypes, domain.GrantTypeAuthorizationCode) {
		return NewInvalidClientMetadataError("grant_types must include authorization_code")
	}
	return nil
}

// ValidateRedirectURI checks a redirect URI for registration: absolute, http
// or https, no fragment and no wildcard.
func ValidateRedirectURI(raw string) error {
	if raw == "" {
		return errors.New("redirect_uri must not be empty")
	}
	if strings.Contains(raw, "#") {
		return fmt.Errorf("redirect_uri %q must not contain a fragment", raw)
	}
	if strings.Contains(raw, "*") {
		return fmt.Errorf("redirect_uri %q must not contain wildcards", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect_uri %q is not a valid URL", raw)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("redirect_uri %q must be absolute", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("redirect_uri %q must use http or https", raw)
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
