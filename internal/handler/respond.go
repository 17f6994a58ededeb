package handler

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"safechat/internal/apperr"
	"safechat/internal/logging"
)

// maxBodyBytes limits request bodies to 1MB.
const maxBodyBytes = 1 << 20

// identityHeader carries the caller identity set by the authenticating proxy.
const identityHeader = "X-User-ID"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrInvalidState:
		return http.StatusUnprocessableEntity
	case apperr.ErrValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err to the client, hiding unclassified errors.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("❌ Internal error")
		writeError(w, status, "Internal server error")
		return
	}
	logging.Info().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	writeError(w, status, err.Error())
}

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	// リクエストボディサイズを1MBに制限
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logging.Info().Err(err).Str("path", r.URL.Path).Msg("❌ Bad Request")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// requireIdentity returns the caller identity or writes 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(identityHeader))
	if id == "" {
		writeError(w, http.StatusUnauthorized, identityHeader+" header is required")
		return "", false
	}
	return id, true
}
