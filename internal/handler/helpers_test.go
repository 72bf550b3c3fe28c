package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dlddu/gim-auth/internal/blocklist"
	"github.com/dlddu/gim-auth/internal/crypto"
	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/metrics"
	"github.com/dlddu/gim-auth/internal/ratelimit"
	"github.com/dlddu/gim-auth/internal/repository"
	"github.com/dlddu/gim-auth/internal/service"
)

const (
	testRedirect   = "https://client.example.com/callback"
	testAdminToken = "admin-0123456789abcdef0123456789abcdef"
)

type testServer struct {
	*httptest.Server
	metrics    *metrics.Metrics
	identities *repository.MemoryIdentityRepository
	idService  *service.IdentityService
	submitted  atomic.Int32
	searched   atomic.Int32
}

type serverOptions struct {
	identityLimit     int
	registrationLimit int
	submissionLimit   int
}

func defaultServerOptions() serverOptions {
	return serverOptions{identityLimit: 10, registrationLimit: 10, submissionLimit: 10}
}

func newTestServer(t *testing.T, so serverOptions) *testServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	ts := &testServer{
		metrics:    metrics.New(),
		identities: repository.NewMemoryIdentityRepository(),
	}

	ts.Server = httptest.NewUnstartedServer(nil)
	t.Cleanup(ts.Close)
	issuer := "http://" + ts.Listener.Addr().String()

	key, err := jwt.GenerateSigningKey(32)
	require.NoError(t, err)

	bearerTokens, err := jwt.NewTokenManager(key, issuer, "gim-api", 24*time.Hour, jwt.WithLogger(logger))
	require.NoError(t, err)

	bl := blocklist.New(blocklist.WithLogger(logger))
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(ts.metrics),
	}

	clients := service.NewClientService(repository.NewMemoryClientRepository(), crypto.NewBcryptHasher(4),
		[]string{"search", "submit"}, opts...)

	provider, err := service.NewProvider(service.ProviderConfig{
		Issuer:               issuer,
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      24 * time.Hour,
		AuthorizationCodeTTL: 5 * time.Minute,
	}, clients, bearerTokens, bl, ts.identities, opts...)
	require.NoError(t, err)

	verifier := service.NewVerifier(bearerTokens, bl, append(opts, service.WithIdentityLookup(ts.identities))...)

	identityRL := ratelimit.New(ratelimit.Config{Name: "identity", Limit: so.identityLimit, Window: time.Hour})
	submitRL := ratelimit.New(ratelimit.Config{Name: "submission", Limit: so.submissionLimit, Window: time.Hour})
	registrationRL := ratelimit.New(ratelimit.Config{Name: "registration", Limit: so.registrationLimit, Window: time.Hour})

	ts.idService = service.NewIdentityService(ts.identities, bearerTokens, identityRL, opts...)

	ts.Config.Handler = NewRouter(Deps{
		Provider:            provider,
		Verifier:            verifier,
		Identities:          ts.idService,
		IPs:                 ratelimit.NewIPExtractor(false, logger),
		IdentityLimiter:     identityRL,
		RegistrationLimiter: registrationRL,
		SubmissionLimiter:   submitRL,
		Submissions: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ts.submitted.Add(1)
			w.WriteHeader(http.StatusAccepted)
		}),
		Searches: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ts.searched.Add(1)
			if r.URL.Query().Get("q") == "" {
				writeError(w, http.StatusBadRequest, "invalid_request", "q is required")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"results": []string{}})
		}),
		Admin:      ts.idService,
		AdminToken: testAdminToken,
		Metrics:    ts.metrics,
		Logger:     logger,
	})
	ts.Start()

	return ts
}

// noRedirectClient returns a client that hands 302 responses back to the test.
func (ts *testServer) noRedirectClient() *http.Client {
	c := *ts.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

func (ts *testServer) postJSON(t *testing.T, path string, body any, bearer string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// get issues a GET without following redirects. path may be absolute.
func (ts *testServer) get(t *testing.T, path, bearer string) *http.Response {
	t.Helper()

	target := path
	if !strings.HasPrefix(target, "http") {
		target = ts.URL + path
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := ts.noRedirectClient().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// createIdentity registers an identity over HTTP and returns its response
func (ts *testServer) createIdentity(t *testing.T) createIdentityResponse {
	t.Helper()

	resp := ts.postJSON(t, "/v1/identities", createIdentityRequest{Description: "test"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out createIdentityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// registerClient registers a client over HTTP and returns its response
func (ts *testServer) registerClient(t *testing.T, authMethod string) registrationResponse {
	t.Helper()

	resp := ts.postJSON(t, service.RegisterPath, service.ClientRegistration{
		RedirectURIs:            []string{testRedirect},
		ClientName:              "test client",
		TokenEndpointAuthMethod: authMethod,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out registrationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}
