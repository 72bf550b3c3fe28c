package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/domain"
	"github.com/dlddu/gim-auth/internal/metrics"
	"github.com/dlddu/gim-auth/internal/ratelimit"
	"github.com/dlddu/gim-auth/internal/service"
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Provider   OAuthProvider
	Verifier   TokenVerifier
	Identities IdentityService
	IPs        *ratelimit.IPExtractor

	IdentityLimiter     RateLimiter
	RegistrationLimiter RateLimiter
	SubmissionLimiter   RateLimiter

	// Submissions, when set, is mounted at /v1/submissions behind bearer
	// authentication and the submission limiter.
	Submissions http.Handler
	// Searches, when set, is mounted at /v1/search behind bearer
	// authentication. Successful calls count as searches.
	Searches http.Handler

	// Admin routes are mounted only when both are set.
	Admin      IdentityAdmin
	AdminToken string

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewRouter assembles the chi router with its middleware and routes
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.IPs == nil {
		d.IPs = ratelimit.NewIPExtractor(false, d.Logger)
	}

	oauth := NewOAuthHandler(d.Provider, d.Logger)
	identities := NewIdentityHandler(d.Identities, d.IPs, d.IdentityLimiter, d.Logger)
	bearer := RequireBearer(d.Verifier)

	r := chi.NewRouter()
	r.Use(
		RequestID(),
		Logging(d.Logger),
		Recover(d.Logger),
		SecurityHeaders(),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Get(service.MetadataPath, oauth.Metadata)
	r.With(bearer).Get(service.AuthorizePath, oauth.Authorize)
	r.Post(service.TokenPath, oauth.Token)
	r.Post(service.RevokePath, oauth.Revoke)
	if d.RegistrationLimiter != nil {
		r.With(RateLimit(d.RegistrationLimiter, d.IPs, d.Metrics)).Post(service.RegisterPath, oauth.Register)
	} else {
		r.Post(service.RegisterPath, oauth.Register)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/identities", identities.Create)
		v1.Post("/auth/token", identities.ExchangeToken)
		v1.With(bearer).Get("/whoami", identities.WhoAmI)

		if d.Submissions != nil {
			sub := []func(http.Handler) http.Handler{bearer}
			if d.SubmissionLimiter != nil {
				sub = append(sub, RateLimit(d.SubmissionLimiter, d.IPs, d.Metrics))
			}
			sub = append(sub, identities.RecordUsage(domain.UsageSubmission))

			v1.With(sub...).Handle("/submissions", d.Submissions)
			v1.With(sub...).Handle("/submissions/*", d.Submissions)
		}

		if d.Searches != nil {
			search := v1.With(bearer, identities.RecordUsage(domain.UsageSearch))
			search.Handle("/search", d.Searches)
			search.Handle("/search/*", d.Searches)
		}

		if d.Admin != nil && d.AdminToken != "" {
			admin := NewAdminHandler(d.Admin, d.Logger)
			v1.With(RequireAdmin(d.AdminToken)).Post("/admin/identities/{public_id}/{action}", admin.ChangeStatus)
		}
	})

	return r
}
