package ratelimit

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestIPExtractor_ClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "should use peer address when proxy is not trusted",
			remoteAddr: "192.0.2.10:5123",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "192.0.2.10",
		},
		{
			name:       "should use the hop appended by the trusted proxy",
			trustProxy: true,
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "should ignore a client-supplied forwarded prefix",
			trustProxy: true,
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9, 203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "should fall back to X-Real-IP behind trusted proxy",
			trustProxy: true,
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Real-IP": "2001:db8::1"},
			want:       "2001:db8::1",
		},
		{
			name:       "should ignore garbage forwarded header",
			trustProxy: true,
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			want:       "10.0.0.1",
		},
		{
			name:       "should accept bare peer address",
			remoteAddr: "192.0.2.44",
			want:       "192.0.2.44",
		},
		{
			name:       "should use unknown bucket when nothing parses",
			remoteAddr: "pipe",
			want:       UnknownIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/identities", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			e := NewIPExtractor(tt.trustProxy, nil)
			assert.Equal(t, tt.want, e.ClientIP(r))
		})
	}
}

func TestIPExtractor_SpoofedPrefixSharesBucket(t *testing.T) {
	limiter := New(Config{Name: "identity", Limit: 5, Window: time.Hour})
	e := NewIPExtractor(true, nil)

	allowed := 0
	for i := 0; i < 50; i++ {
		r := httptest.NewRequest("POST", "/v1/identities", nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d, 203.0.113.7", i))
		if limiter.IsAllowed(e.ClientIP(r)) {
			allowed++
		}
	}

	assert.Equal(t, 5, allowed)
}

func TestIPExtractor_UnknownIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := NewIPExtractor(false, zap.New(core))

	r := httptest.NewRequest("POST", "/v1/identities", nil)
	r.RemoteAddr = ""

	assert.Equal(t, UnknownIP, e.ClientIP(r))
	assert.Equal(t, 1, logs.Len())
}
