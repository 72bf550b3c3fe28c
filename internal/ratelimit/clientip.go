package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// UnknownIP is the shared bucket for requests whose origin cannot be determined.
const UnknownIP = "unknown"

// IPExtractor resolves the client address used as the rate-limit key.
type IPExtractor struct {
	trustProxy bool
	logger     *zap.Logger
}

// NewIPExtractor creates an extractor. Proxy headers are honoured only when
// trustProxy is set, i.e. the deployment sits behind a proxy it controls.
func NewIPExtractor(trustProxy bool, logger *zap.Logger) *IPExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPExtractor{trustProxy: trustProxy, logger: logger}
}

// ClientIP returns the client address for r.
func (e *IPExtractor) ClientIP(r *http.Request) string {
	if e.trustProxy {
		// The trusted proxy appends the peer it saw; earlier entries are
		// whatever the client sent.
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			hops := strings.Split(xff[len(xff)-1], ",")
			if ip := normalize(hops[len(hops)-1]); ip != "" {
				return ip
			}
		}
		if ip := normalize(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	if ip := hostIP(r.RemoteAddr); ip != "" {
		return ip
	}

	e.logger.Warn("could not determine client IP, using shared bucket",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("trust_proxy", e.trustProxy))
	return UnknownIP
}

func hostIP(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return normalize(host)
	}
	return normalize(addr)
}

func normalize(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
