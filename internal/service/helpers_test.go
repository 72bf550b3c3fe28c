package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	"github.com/dlddu/gim-auth/internal/blocklist"
	"github.com/dlddu/gim-auth/internal/crypto"
	"github.com/dlddu/gim-auth/internal/domain"
	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/repository"
)

const (
	testIssuer   = "https://auth.example.com"
	testAudience = "gim-api"
	testRedirect = "https://client.example.com/callback"
)

var testScopes = []string{"search", "submit"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock      *fakeClock
	clientRepo *repository.MemoryClientRepository
	identities *repository.MemoryIdentityRepository
	tokens     *jwt.TokenManager
	blocklist  *blocklist.Blocklist
	clients    *ClientService
	provider   *Provider
	verifier   *Verifier
	identity   *domain.Identity
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:      newFakeClock(),
		clientRepo: repository.NewMemoryClientRepository(),
		identities: repository.NewMemoryIdentityRepository(),
	}
	logger := zaptest.NewLogger(t)

	tokens, err := jwt.NewTokenManager(
		[]byte("0123456789abcdef0123456789abcdef"),
		testIssuer, testAudience, time.Hour,
		jwt.WithClock(h.clock.Now),
	)
	require.NoError(t, err)
	h.tokens = tokens
	h.blocklist = blocklist.New(blocklist.WithClock(h.clock.Now))

	h.clients = NewClientService(h.clientRepo, crypto.NewBcryptHasher(4), testScopes,
		WithClock(h.clock.Now), WithLogger(logger))

	h.provider, err = NewProvider(ProviderConfig{
		Issuer:               testIssuer + "/",
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      24 * time.Hour,
		AuthorizationCodeTTL: 5 * time.Minute,
	}, h.clients, h.tokens, h.blocklist, h.identities, WithClock(h.clock.Now), WithLogger(logger))
	require.NoError(t, err)

	h.verifier = NewVerifier(h.tokens, h.blocklist, WithLogger(logger), WithIdentityLookup(h.identities))

	h.identity = &domain.Identity{
		ID:           uuid.NewString(),
		PublicID:     "gim_test",
		Status:       domain.IdentityActive,
		CreatedAt:    h.clock.Now(),
		DailyResetAt: h.clock.Now(),
	}
	require.NoError(t, h.identities.Create(context.Background(), h.identity))

	return h
}

func (h *harness) registerPublic(t *testing.T) *domain.Client {
	t.Helper()
	reg, err := h.provider.RegisterClient(context.Background(), ClientRegistration{
		RedirectURIs: []string{testRedirect},
		ClientName:   "test",
	})
	require.NoError(t, err)
	return reg.Client
}

func (h *harness) registerConfidential(t *testing.T, method string) *RegisteredClient {
	t.Helper()
	reg, err := h.provider.RegisterClient(context.Background(), ClientRegistration{
		RedirectURIs:            []string{testRedirect},
		ClientName:              "confidential",
		TokenEndpointAuthMethod: method,
	})
	require.NoError(t, err)
	return reg
}

func (h *harness) authorizeRequest(clientID, verifier string) AuthorizationRequest {
	return AuthorizationRequest{
		ResponseType:        "code",
		ClientID:            clientID,
		RedirectURI:         testRedirect,
		State:               "xyz",
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
		Subject:             h.identity.PublicID,
		InternalID:          h.identity.ID,
	}
}

// issueCode runs a successful authorization request and returns the code
// with its verifier.
func (h *harness) issueCode(t *testing.T, clientID string) (code, verifier string) {
	t.Helper()
	verifier = oauth2.GenerateVerifier()
	resp, err := h.provider.Authorize(context.Background(), h.authorizeRequest(clientID, verifier))
	require.NoError(t, err)
	return resp.Code, verifier
}

// exchange issues a code and redeems it for a public client.
func (h *harness) exchange(t *testing.T, clientID string) *TokenResponse {
	t.Helper()
	code, verifier := h.issueCode(t, clientID)
	resp, err := h.provider.ExchangeCode(context.Background(), ExchangeRequest{
		Code:         code,
		RedirectURI:  testRedirect,
		CodeVerifier: verifier,
		Client:       publicCreds(clientID),
	})
	require.NoError(t, err)
	return resp
}
