package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/service"
)

const maxBodyBytes = 64 << 10

// errorBody is the JSON error document shared by every endpoint
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// Headers are already written, nothing useful to do with an encode error.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorBody{Error: code, ErrorDescription: description})
}

// writeOAuthError writes err using the OAuth error vocabulary. Anything that
// is not an *service.OAuthError becomes server_error and is logged.
func writeOAuthError(w http.ResponseWriter, logger *zap.Logger, err error) {
	oe := service.AsOAuthError(err)
	if errors.Is(oe, service.ErrServerError) {
		logger.Error("request failed", zap.Error(err))
	}
	if errors.Is(oe, service.ErrInvalidClient) {
		w.Header().Set("WWW-Authenticate", `Basic realm="gim-auth"`)
	}
	writeError(w, oe.Status, oe.Code, oe.Description)
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="gim-auth"`)
	writeError(w, http.StatusUnauthorized, "unauthenticated", "")
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	writeError(w, http.StatusTooManyRequests, service.ErrRateLimited.Error(), "")
}

func writeInternal(w http.ResponseWriter, logger *zap.Logger, err error) {
	logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error", "")
}

// noStore marks a response as carrying credentials
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
