package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/auth"
	"github.com/dlddu/gim-auth/internal/crypto"
	"github.com/dlddu/gim-auth/internal/domain"
	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/metrics"
	"github.com/dlddu/gim-auth/internal/pkce"
	"github.com/dlddu/gim-auth/internal/repository"
)

// Endpoint paths advertised in the server metadata.
const (
	MetadataPath  = "/.well-known/oauth-authorization-server"
	AuthorizePath = "/oauth/authorize"
	TokenPath     = "/oauth/token"
	RegisterPath  = "/oauth/register"
	RevokePath    = "/oauth/revoke"
)

const (
	authorizationCodeBytes = 32
	refreshTokenBytes      = 32
	// sweepEvery is how many code or refresh-token writes pass between sweeps.
	sweepEvery = 100
)

// ProviderConfig holds the issuer and lifetimes of the authorization server.
type ProviderConfig struct {
	Issuer               string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	AuthorizationCodeTTL time.Duration
}

// AuthorizationRequest is a validated-by-caller authorization request. Subject
// and InternalID identify the authenticated identity granting access.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
	InternalID          string
}

// AuthorizationResponse carries the issued code back to the redirect URI.
type AuthorizationResponse struct {
	Code        string
	State       string
	RedirectURI string
	ExpiresIn   int64
}

// ExchangeRequest is an authorization_code grant request
type ExchangeRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
	Client       auth.ClientCredentials
}

// RefreshRequest is a refresh_token grant request
type RefreshRequest struct {
	RefreshToken string
	Scope        string
	Client       auth.ClientCredentials
}

// RevocationRequest is an RFC 7009 revocation request
type RevocationRequest struct {
	Token         string
	TokenTypeHint string
	Client        auth.ClientCredentials
}

// TokenResponse represents an OAuth 2.1 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ServerMetadata is the RFC 8414 authorization server metadata document
type ServerMetadata struct {
	Issuer                                 string   `json:"issuer"`
	AuthorizationEndpoint                  string   `json:"authorization_endpoint"`
	TokenEndpoint                          string   `json:"token_endpoint"`
	RegistrationEndpoint                   string   `json:"registration_endpoint"`
	RevocationEndpoint                     string   `json:"revocation_endpoint"`
	ResponseTypesSupported                 []string `json:"response_types_supported"`
	GrantTypesSupported                    []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported          []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported      []string `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethodsSupported []string `json:"revocation_endpoint_auth_methods_supported"`
	ScopesSupported                        []string `json:"scopes_supported"`
}

// IdentityLookup resolves the identity behind a grant.
type IdentityLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
}

// family groups every refresh token and access token descended from one
// authorization code exchange.
type family struct {
	refreshHashes []string
	accessJTIs    map[string]time.Time
	revoked       bool
}

// Provider is the OAuth 2.1 authorization server. Pending codes and refresh
// tokens live in memory, keyed by the SHA-256 of their value. Each table has
// its own mutex and no operation holds both.
type Provider struct {
	cfg        ProviderConfig
	clients    *ClientService
	identities IdentityLookup
	tokens     TokenIssuer
	blocklist  Blocklist

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	codesMu sync.Mutex
	codes   map[string]*domain.AuthorizationCode

	// refreshMu guards refresh and families.
	refreshMu sync.Mutex
	refresh   map[string]*domain.RefreshToken
	families  map[string]*family

	writes atomic.Uint64
}

// NewProvider creates a new Provider. identities may be nil, in which case
// identity status is not rechecked at grant time.
func NewProvider(
	cfg ProviderConfig,
	clients *ClientService,
	tokens TokenIssuer,
	blocklist Blocklist,
	identities IdentityLookup,
	opts ...Option,
) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 || cfg.AuthorizationCodeTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if clients == nil || tokens == nil || blocklist == nil {
		return nil, errors.New("clients, tokens and blocklist are required")
	}

	o := buildOptions(opts)
	cfg.Issuer = strings.TrimRight(cfg.Issuer, "/")

	return &Provider{
		cfg:        cfg,
		clients:    clients,
		identities: identities,
		tokens:     tokens,
		blocklist:  blocklist,
		now:        o.now,
		logger:     o.logger,
		metrics:    o.metrics,
		codes:      make(map[string]*domain.AuthorizationCode),
		refresh:    make(map[string]*domain.RefreshToken),
		families:   make(map[string]*family),
	}, nil
}

// RegisterClient registers a new client (RFC 7591)
func (p *Provider) RegisterClient(ctx context.Context, reg ClientRegistration) (*RegisteredClient, error) {
	return p.clients.RegisterClient(ctx, reg)
}

// Authorize validates an authorization request and issues a single-use code.
// Failures before the redirect URI is trusted are returned without one.
func (p *Provider) Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResponse, error) {
	const op = "service.provider.Authorize"

	client, err := p.clients.GetClientByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, &AuthorizeError{OAuthError: NewInvalidClientError("unknown client")}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" && len(client.RedirectURIs) == 1 {
		redirectURI = client.RedirectURIs[0]
	}
	if !client.HasRedirectURI(redirectURI) {
		return nil, &AuthorizeError{OAuthError: NewInvalidRequestError("redirect_uri is not registered for this client")}
	}

	fail := func(oe *OAuthError) error {
		return &AuthorizeError{OAuthError: oe, RedirectURI: redirectURI, State: req.State}
	}

	if req.ResponseType != "code" {
		return nil, fail(NewUnsupportedResponseTypeError("response_type must be code"))
	}
	if !client.AllowsGrant(domain.GrantTypeAuthorizationCode) {
		return nil, fail(NewUnauthorizedClientError("client may not use the authorization_code grant"))
	}
	if req.CodeChallenge == "" {
		return nil, fail(NewInvalidRequestError("code_challenge is required"))
	}
	if req.CodeChallengeMethod != pkce.MethodS256 {
		return nil, fail(NewInvalidRequestError(pkce.ErrUnsupportedMethod.Error() + ": code_challenge_method must be S256"))
	}
	if !pkce.ValidateCodeChallenge(req.CodeChallenge) {
		return nil, fail(NewInvalidRequestError("code_challenge must be 43 to 128 unreserved characters"))
	}

	scopes := strings.Fields(req.Scope)
	if len(scopes) == 0 {
		scopes = client.Scopes
	} else if !client.AllowsScopes(scopes) {
		return nil, fail(NewInvalidScopeError("requested scope exceeds the client's registered scope"))
	}

	if req.Subject == "" || req.InternalID == "" {
		return nil, ErrUnauthenticated
	}
	if err := p.checkIdentity(ctx, req.InternalID); err != nil {
		return nil, err
	}

	code, err := pkce.GenerateAuthorizationCode(authorizationCodeBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := p.now()
	ac := &domain.AuthorizationCode{
		CodeHash:            crypto.HashToken(code),
		ClientID:            client.ClientID,
		Subject:             req.Subject,
		InternalID:          req.InternalID,
		RedirectURI:         req.RedirectURI,
		Scopes:              dedupe(scopes),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: pkce.MethodS256,
		IssuedAt:            now,
		ExpiresAt:           now.Add(p.cfg.AuthorizationCodeTTL),
	}

	p.codesMu.Lock()
	p.codes[ac.CodeHash] = ac
	p.codesMu.Unlock()
	p.maybeSweep()

	p.logger.Info("authorization code issued",
		zap.String("client_id", client.ClientID),
		zap.String("sub", req.Subject),
		zap.Strings("scopes", ac.Scopes),
	)

	return &AuthorizationResponse{
		Code:        code,
		State:       req.State,
		RedirectURI: redirectURI,
		ExpiresIn:   int64(p.cfg.AuthorizationCodeTTL.Seconds()),
	}, nil
}

// ExchangeCode redeems an authorization code for an access and refresh token.
// The code is burned by the first attempt whatever its outcome; presenting a
// burned code again revokes every token issued from it.
func (p *Provider) ExchangeCode(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	const op = "service.provider.ExchangeCode"

	client, err := p.authenticateGrant(ctx, req.Client, req.Code != "")
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(domain.GrantTypeAuthorizationCode) {
		return nil, NewUnauthorizedClientError("client may not use the authorization_code grant")
	}
	if req.Code == "" {
		return nil, NewInvalidRequestError("code is required")
	}
	if req.CodeVerifier == "" {
		return nil, NewInvalidRequestError("code_verifier is required")
	}

	code, replayed, err := p.consumeCode(crypto.HashToken(req.Code))
	if replayed != "" {
		p.logger.Warn("authorization code replay detected",
			zap.String("client_id", client.ClientID),
			zap.String("family_id", replayed),
		)
		p.metrics.ReplayDetected()
		p.revokeFamily(replayed)
	}
	if err != nil {
		return nil, err
	}

	if code.ClientID != client.ClientID {
		return nil, NewInvalidGrantError("authorization code was issued to another client")
	}
	// The code remembers the redirect_uri as sent, empty included.
	if code.RedirectURI != req.RedirectURI {
		return nil, NewInvalidGrantError("redirect_uri does not match the authorization request")
	}
	if !pkce.VerifyCodeChallenge(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
		p.logger.Debug("PKCE verification failed", zap.String("client_id", client.ClientID))
		return nil, NewInvalidGrantError("code_verifier does not match code_challenge")
	}
	if err := p.checkIdentity(ctx, code.InternalID); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return nil, NewInvalidGrantError("identity is not active")
		}
		return nil, err
	}

	refreshToken, err := crypto.GenerateSecret(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	access, info, err := p.signAccess(code.ClientID, code.Subject, code.InternalID, code.Scopes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := p.now()
	rt := &domain.RefreshToken{
		TokenHash:  crypto.HashToken(refreshToken),
		FamilyID:   code.FamilyID,
		ClientID:   code.ClientID,
		Subject:    code.Subject,
		InternalID: code.InternalID,
		Scopes:     code.Scopes,
		State:      domain.RefreshActive,
		IssuedAt:   now,
		ExpiresAt:  now.Add(p.cfg.RefreshTokenTTL),
	}

	p.refreshMu.Lock()
	fam := p.familyLocked(code.FamilyID)
	if fam.revoked {
		p.refreshMu.Unlock()
		p.blocklist.Add(info.JTI, info.ExpiresAt)
		return nil, NewInvalidGrantError("authorization code has been revoked")
	}
	fam.accessJTIs[info.JTI] = info.ExpiresAt
	fam.refreshHashes = append(fam.refreshHashes, rt.TokenHash)
	p.refresh[rt.TokenHash] = rt
	p.refreshMu.Unlock()
	p.maybeSweep()

	p.metrics.TokenIssued(domain.GrantTypeAuthorizationCode)
	p.logger.Info("authorization code exchanged",
		zap.String("client_id", client.ClientID),
		zap.String("sub", code.Subject),
		zap.String("family_id", code.FamilyID),
	)

	return p.tokenResponse(access, refreshToken, code.Scopes), nil
}

// authenticateGrant authenticates the client at the token endpoint. A grant
// presented for a client that no longer exists is invalid_grant, not
// invalid_client.
func (p *Provider) authenticateGrant(ctx context.Context, creds auth.ClientCredentials, grantPresented bool) (*domain.Client, error) {
	client, err := p.clients.AuthenticateClient(ctx, creds)
	if err == nil || !grantPresented || !errors.Is(err, ErrInvalidClient) || creds.ClientID == "" {
		return client, err
	}
	if _, lookupErr := p.clients.GetClientByID(ctx, creds.ClientID); errors.Is(lookupErr, repository.ErrClientNotFound) {
		p.logger.Info("grant presented for a deleted client", zap.String("client_id", creds.ClientID))
		return nil, NewInvalidGrantError("grant was issued to a client that no longer exists")
	}
	return nil, err
}

// consumeCode looks up, checks and burns a code in one critical section. For
// a code that was already used it returns the family to revoke.
func (p *Provider) consumeCode(hash string) (*domain.AuthorizationCode, string, error) {
	p.codesMu.Lock()
	defer p.codesMu.Unlock()

	ac, ok := p.codes[hash]
	if !ok {
		return nil, "", NewInvalidGrantError("authorization code is invalid")
	}
	if ac.UsedAt != nil {
		return nil, ac.FamilyID, NewInvalidGrantError("authorization code has already been used")
	}

	now := p.now()
	if !now.Before(ac.ExpiresAt) {
		delete(p.codes, hash)
		return nil, "", NewInvalidGrantError("authorization code has expired")
	}

	used := now
	ac.UsedAt = &used
	ac.FamilyID = uuid.NewString()

	cp := *ac
	return &cp, "", nil
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated revokes its whole family.
func (p *Provider) Refresh(ctx context.Context, req RefreshRequest) (*TokenResponse, error) {
	const op = "service.provider.Refresh"

	client, err := p.authenticateGrant(ctx, req.Client, req.RefreshToken != "")
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(domain.GrantTypeRefreshToken) {
		return nil, NewUnauthorizedClientError("client may not use the refresh_token grant")
	}
	if req.RefreshToken == "" {
		return nil, NewInvalidRequestError("refresh_token is required")
	}

	successor, err := crypto.GenerateSecret(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	next, revoked, err := p.rotateRefresh(crypto.HashToken(req.RefreshToken), crypto.HashToken(successor), client.ClientID, strings.Fields(req.Scope))
	if revoked != nil {
		p.logger.Warn("refresh token reuse detected", zap.String("client_id", client.ClientID))
		p.metrics.ReplayDetected()
		p.blockAll(revoked)
	}
	if err != nil {
		return nil, err
	}
	p.maybeSweep()

	if err := p.checkIdentity(ctx, next.InternalID); err != nil {
		p.revokeFamily(next.FamilyID)
		if errors.Is(err, ErrUnauthenticated) {
			return nil, NewInvalidGrantError("identity is not active")
		}
		return nil, err
	}

	access, info, err := p.signAccess(next.ClientID, next.Subject, next.InternalID, next.Scopes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.refreshMu.Lock()
	fam := p.familyLocked(next.FamilyID)
	if fam.revoked {
		p.refreshMu.Unlock()
		p.blocklist.Add(info.JTI, info.ExpiresAt)
		return nil, NewInvalidGrantError("refresh token has been revoked")
	}
	fam.accessJTIs[info.JTI] = info.ExpiresAt
	p.refreshMu.Unlock()

	p.metrics.TokenIssued(domain.GrantTypeRefreshToken)
	p.logger.Info("refresh token rotated",
		zap.String("client_id", client.ClientID),
		zap.String("sub", next.Subject),
		zap.String("family_id", next.FamilyID),
	)

	return p.tokenResponse(access, successor, next.Scopes), nil
}

// rotateRefresh marks the presented token rotated and inserts its successor
// in one critical section. On reuse it returns the access token ids to block.
func (p *Provider) rotateRefresh(hash, successorHash, clientID string, requested []string) (*domain.RefreshToken, map[string]time.Time, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	rt, ok := p.refresh[hash]
	if !ok {
		return nil, nil, NewInvalidGrantError("refresh token is invalid")
	}

	switch rt.State {
	case domain.RefreshRevoked:
		return nil, nil, NewInvalidGrantError("refresh token has been revoked")
	case domain.RefreshRotated:
		return nil, p.revokeFamilyLocked(rt.FamilyID), NewInvalidGrantError("refresh token has already been used")
	}

	now := p.now()
	if !now.Before(rt.ExpiresAt) {
		return nil, nil, NewInvalidGrantError("refresh token has expired")
	}
	if rt.ClientID != clientID {
		return nil, nil, NewInvalidGrantError("refresh token was issued to another client")
	}

	scopes := rt.Scopes
	if len(requested) > 0 {
		for _, s := range requested {
			if !contains(rt.Scopes, s) {
				return nil, nil, NewInvalidScopeError("requested scope exceeds the original grant")
			}
		}
		scopes = dedupe(requested)
	}

	rt.State = domain.RefreshRotated
	next := &domain.RefreshToken{
		TokenHash:  successorHash,
		FamilyID:   rt.FamilyID,
		ClientID:   rt.ClientID,
		Subject:    rt.Subject,
		InternalID: rt.InternalID,
		Scopes:     scopes,
		State:      domain.RefreshActive,
		IssuedAt:   now,
		ExpiresAt:  now.Add(p.cfg.RefreshTokenTTL),
		ParentHash: hash,
	}
	p.refresh[successorHash] = next
	fam := p.familyLocked(rt.FamilyID)
	fam.refreshHashes = append(fam.refreshHashes, successorHash)

	cp := *next
	return &cp, nil, nil
}

// Revoke revokes a refresh or access token held by the authenticated client.
// Unknown, expired, foreign or already revoked tokens are not an error.
func (p *Provider) Revoke(ctx context.Context, req RevocationRequest) error {
	client, err := p.clients.AuthenticateClient(ctx, req.Client)
	if err != nil {
		return err
	}
	if req.Token == "" {
		return NewInvalidRequestError("token is required")
	}

	if req.TokenTypeHint == "access_token" {
		if !p.revokeAccess(client.ClientID, req.Token) {
			p.revokeRefresh(client.ClientID, req.Token)
		}
		return nil
	}

	if !p.revokeRefresh(client.ClientID, req.Token) {
		p.revokeAccess(client.ClientID, req.Token)
	}
	return nil
}

// revokeRefresh reports whether token is a known refresh token.
func (p *Provider) revokeRefresh(clientID, token string) bool {
	p.refreshMu.Lock()
	rt, ok := p.refresh[crypto.HashToken(token)]
	if !ok {
		p.refreshMu.Unlock()
		return false
	}
	if rt.ClientID != clientID {
		p.refreshMu.Unlock()
		p.logger.Warn("revocation of foreign refresh token ignored", zap.String("client_id", clientID))
		return true
	}
	familyID := rt.FamilyID
	jtis := p.revokeFamilyLocked(familyID)
	p.refreshMu.Unlock()

	p.blockAll(jtis)
	p.metrics.Revoked("refresh_token")
	p.logger.Info("refresh token revoked", zap.String("client_id", clientID), zap.String("family_id", familyID))
	return true
}

// revokeAccess reports whether token is a valid access token.
func (p *Provider) revokeAccess(clientID, token string) bool {
	info, err := p.tokens.VerifyToken(token)
	if err != nil {
		return false
	}
	if info.ClientID != clientID {
		p.logger.Warn("revocation of foreign access token ignored", zap.String("client_id", clientID))
		return true
	}

	p.blocklist.Add(info.JTI, info.ExpiresAt)
	p.metrics.Revoked("access_token")
	p.logger.Info("access token revoked", zap.String("client_id", clientID), zap.String("jti", info.JTI))
	return true
}

// Metadata returns the RFC 8414 server metadata
func (p *Provider) Metadata() ServerMetadata {
	authMethods := []string{
		domain.AuthMethodNone,
		domain.AuthMethodClientSecretBasic,
		domain.AuthMethodClientSecretPost,
	}
	return ServerMetadata{
		Issuer:                                 p.cfg.Issuer,
		AuthorizationEndpoint:                  p.cfg.Issuer + AuthorizePath,
		TokenEndpoint:                          p.cfg.Issuer + TokenPath,
		RegistrationEndpoint:                   p.cfg.Issuer + RegisterPath,
		RevocationEndpoint:                     p.cfg.Issuer + RevokePath,
		ResponseTypesSupported:                 []string{"code"},
		GrantTypesSupported:                    []string{domain.GrantTypeAuthorizationCode, domain.GrantTypeRefreshToken},
		CodeChallengeMethodsSupported:          []string{pkce.MethodS256},
		TokenEndpointAuthMethodsSupported:      authMethods,
		RevocationEndpointAuthMethodsSupported: authMethods,
		ScopesSupported:                        p.clients.SupportedScopes(),
	}
}

// Sweep drops expired codes, dead refresh tokens and families with nothing
// left to revoke. It returns the number of codes and refresh tokens removed.
func (p *Provider) Sweep() int {
	now := p.now()
	removed := 0

	p.codesMu.Lock()
	for hash, ac := range p.codes {
		if !now.Before(ac.ExpiresAt) {
			delete(p.codes, hash)
			removed++
		}
	}
	p.codesMu.Unlock()

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	for hash, rt := range p.refresh {
		if !now.Before(rt.ExpiresAt) || rt.State == domain.RefreshRevoked {
			delete(p.refresh, hash)
			removed++
		}
	}

	for id, fam := range p.families {
		live := fam.refreshHashes[:0]
		for _, h := range fam.refreshHashes {
			if _, ok := p.refresh[h]; ok {
				live = append(live, h)
			}
		}
		fam.refreshHashes = live

		for jti, exp := range fam.accessJTIs {
			if !now.Before(exp) {
				delete(fam.accessJTIs, jti)
			}
		}

		if len(fam.refreshHashes) == 0 && len(fam.accessJTIs) == 0 {
			delete(p.families, id)
		}
	}

	return removed
}

// PendingCodes returns the number of stored authorization codes.
func (p *Provider) PendingCodes() int {
	p.codesMu.Lock()
	defer p.codesMu.Unlock()
	return len(p.codes)
}

// RefreshTokens returns the number of stored refresh tokens.
func (p *Provider) RefreshTokens() int {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	return len(p.refresh)
}

func (p *Provider) maybeSweep() {
	if p.writes.Add(1)%sweepEvery == 0 {
		if n := p.Sweep(); n > 0 {
			p.logger.Debug("swept expired grants", zap.Int("removed", n))
		}
	}
}

// familyLocked returns the family, creating it if needed. refreshMu must be held.
func (p *Provider) familyLocked(id string) *family {
	fam, ok := p.families[id]
	if !ok {
		fam = &family{accessJTIs: make(map[string]time.Time)}
		p.families[id] = fam
	}
	return fam
}

// revokeFamilyLocked revokes every refresh token in the family and returns
// its access token ids. refreshMu must be held.
func (p *Provider) revokeFamilyLocked(id string) map[string]time.Time {
	fam := p.familyLocked(id)
	fam.revoked = true

	for _, h := range fam.refreshHashes {
		if rt, ok := p.refresh[h]; ok {
			rt.State = domain.RefreshRevoked
		}
	}

	jtis := make(map[string]time.Time, len(fam.accessJTIs))
	for jti, exp := range fam.accessJTIs {
		jtis[jti] = exp
	}
	return jtis
}

func (p *Provider) revokeFamily(id string) {
	p.refreshMu.Lock()
	jtis := p.revokeFamilyLocked(id)
	p.refreshMu.Unlock()

	p.blockAll(jtis)
	p.metrics.Revoked("family")
	p.logger.Warn("token family revoked", zap.String("family_id", id), zap.Int("access_tokens", len(jtis)))
}

func (p *Provider) blockAll(jtis map[string]time.Time) {
	for jti, exp := range jtis {
		p.blocklist.Add(jti, exp)
	}
}

func (p *Provider) checkIdentity(ctx context.Context, internalID string) error {
	const op = "service.provider.checkIdentity"

	if p.identities == nil {
		return nil
	}
	identity, err := p.identities.GetByID(ctx, internalID)
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if !identity.IsActive() {
		return ErrUnauthenticated
	}
	return nil
}

func (p *Provider) signAccess(clientID, subject, internalID string, scopes []string) (string, *jwt.TokenInfo, error) {
	return p.tokens.GenerateToken(jwt.TokenClaims{
		Subject:    subject,
		InternalID: internalID,
		Scopes:     scopes,
		ClientID:   clientID,
		TTL:        p.cfg.AccessTokenTTL,
	})
}

func (p *Provider) tokenResponse(access, refresh string, scopes []string) *TokenResponse {
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        strings.Join(scopes, " "),
	}
}
