package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/auth"
	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/metrics"
	"github.com/dlddu/gim-auth/internal/ratelimit"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	loggerKey
	requestIDKey
)

const requestIDHeader = "X-Request-Id"

// ClaimsFromContext returns the claims stored by RequireBearer
func ClaimsFromContext(ctx context.Context) (*jwt.TokenInfo, bool) {
	info, ok := ctx.Value(claimsKey).(*jwt.TokenInfo)
	return info, ok && info != nil
}

// RequestIDFromContext returns the id assigned by RequestID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// loggerFrom returns the request-scoped logger, or fallback outside a request.
func loggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return fallback
}

// statusWriter records the status and size written by the next handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	count  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.count += n
	return n, err
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RequestID propagates X-Request-Id, generating one when the caller sent none.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" || len(id) > 128 {
				id = newRequestID()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Logging stores a request-scoped logger in the context and logs one line
// per request.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := logger
			if id := RequestIDFromContext(r.Context()); id != "" {
				reqLogger = reqLogger.With(zap.String("request_id", id))
			}
			r = r.WithContext(context.WithValue(r.Context(), loggerKey, reqLogger))

			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)

			reqLogger.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.Status()),
				zap.Duration("dur", time.Since(start)),
				zap.Int("bytes", sw.count),
			)
		})
	}
}

// Recover turns a panic into a 500 without leaking its details.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					loggerFrom(r.Context(), logger).Error("panic",
						zap.String("path", r.URL.Path),
						zap.Any("reason", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "server_error", "")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearer rejects requests without a valid, unrevoked bearer token and
// stores the verified claims in the request context.
func RequireBearer(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A malformed header is treated as a missing token.
			token, _ := auth.BearerToken(r.Header.Get("Authorization"))

			info, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeUnauthenticated(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit admits at most the limiter's budget per client IP and answers
// 429 with Retry-After otherwise. Denied requests never reach next.
func RateLimit(limiter RateLimiter, ips *ratelimit.IPExtractor, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ips.ClientIP(r)
			if !limiter.IsAllowed(ip) {
				m.RateLimited(limiter.Name())
				loggerFrom(r.Context(), zap.NewNop()).Warn("rate limit exceeded",
					zap.String("limiter", limiter.Name()),
					zap.String("ip", ip),
				)
				writeRateLimited(w, limiter.RetryAfter(ip))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets headers common to every response.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}
