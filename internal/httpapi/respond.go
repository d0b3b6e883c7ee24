package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"linqyard.app/internal/auth"
	"linqyard.app/internal/ids"
	"linqyard.app/internal/obs"
)

type ctxKey string

const requestIDCtxKey ctxKey = "request_id"

// RequestID assigns every request a correlation id, echoed in the
// X-Request-Id response header and in every response body.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if rid == "" {
			rid = ids.New()
		}
		w.Header().Set("X-Request-Id", rid)
		ctx := context.WithValue(r.Context(), requestIDCtxKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the correlation id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDCtxKey).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData wraps a successful payload in the {data, meta} envelope.
func writeData(w http.ResponseWriter, r *http.Request, code int, data any) {
	writeJSON(w, code, map[string]any{
		"data": data,
		"meta": map[string]any{
			"requestId": RequestIDFromContext(r.Context()),
		},
	})
}

// writeProblem emits an RFC-7807 style problem object.
func writeProblem(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	writeJSON(w, code, map[string]any{
		"status":    code,
		"title":     title,
		"detail":    detail,
		"requestId": RequestIDFromContext(r.Context()),
	})
}

// handleAuthError maps domain errors onto the HTTP taxonomy. Token errors
// collapse into a uniform 401 so callers cannot distinguish why a refresh
// secret was rejected. Anything unrecognized is logged and hidden.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeProblem(w, r, http.StatusBadRequest, "Validation", trimPrefix(err))
	case errors.Is(err, auth.ErrSessionRevoked):
		writeProblem(w, r, http.StatusBadRequest, "Validation", trimPrefix(err))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", trimPrefix(err))
	case errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrInvalidToken):
		writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", "invalid or expired token")
	case errors.Is(err, auth.ErrForbidden):
		writeProblem(w, r, http.StatusForbidden, "Forbidden", "you cannot act on this resource")
	case errors.Is(err, auth.ErrConflict):
		writeProblem(w, r, http.StatusConflict, "Conflict", "email or username already taken")
	case errors.Is(err, auth.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "NotFound", "resource not found")
	case errors.Is(err, auth.ErrSignupDisabled):
		writeProblem(w, r, http.StatusForbidden, "Disabled", "signups are currently disabled")
	case errors.Is(err, auth.ErrConfiguration):
		obs.Event("error", "configuration error", map[string]any{
			"error":      err.Error(),
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeProblem(w, r, http.StatusInternalServerError, "Configuration", "service misconfigured")
	default:
		obs.Event("error", "unexpected error", map[string]any{
			"error":      err.Error(),
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeProblem(w, r, http.StatusInternalServerError, "Unexpected", "an unexpected error occurred")
	}
}

// trimPrefix strips the "auth: " sentinel prefix for user-facing detail text.
func trimPrefix(err error) string {
	return strings.TrimPrefix(err.Error(), "auth: ")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeProblem(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
}
