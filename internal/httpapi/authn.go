package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"linqyard.app/internal/audit"
	"linqyard.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/auth/register",
	"/auth/login",
	"/auth/refresh",
	"/auth/logout",
	"/auth/verify-email",
	"/auth/resend-verification",
	"/auth/forgot-password",
	"/auth/reset-password",
	"/auth/google",
	"/auth/google/callback",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
		r = r.WithContext(ctx)

		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", err.Error())
			return
		}

		claims, err := a.codec.ParseAndValidate(token)
		if err != nil {
			writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", "invalid token")
			return
		}
		userID, err := claims.SubjectID()
		if err != nil {
			writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", "invalid token")
			return
		}

		ctx = auth.WithPrincipal(r.Context(), auth.Principal{
			UserID:    userID,
			SessionID: claims.Session(),
			Roles:     claims.Roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePrincipal is the guard every authenticated handler starts with.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || p.UserID == uuid.Nil {
		writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", "authentication required")
		return auth.Principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
