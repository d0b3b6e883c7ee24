package httpapi

import (
	"net/http"
	"net/url"

	"linqyard.app/internal/audit"
	"linqyard.app/internal/auth"
	"linqyard.app/internal/obs"
)

const stateCookieName = "oauthState"

// handleGoogleInit hands the front-end a provider authorize URL bound to a
// per-request opaque state, which is also pinned in a short-lived cookie.
func (a *API) handleGoogleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.google == nil {
		handleAuthError(w, r, auth.ErrConfiguration)
		return
	}
	state, _, err := auth.NewOpaqueSecret()
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/google",
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	writeData(w, r, http.StatusOK, map[string]any{
		"authUrl": a.google.AuthCodeURL(state),
	})
}

// handleGoogleCallback completes the code exchange and redirects back to the
// front-end. Failures redirect to an error route; a user mid-redirect never
// sees a raw 500.
func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.google == nil {
		a.redirectError(w, r, "unavailable")
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		a.redirectError(w, r, "missing_code")
		return
	}
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		a.redirectError(w, r, "state_mismatch")
		return
	}

	identity, err := a.google.CompleteAuthorizationCode(r.Context(), code)
	if err != nil {
		obs.Event("warn", "google exchange failed", map[string]any{"error": err.Error()})
		a.redirectError(w, r, "exchange_failed")
		return
	}
	res, isNew, err := a.svc.LoginWithExternalIdentity(r.Context(), identity, requestOrigin(r))
	if err != nil {
		obs.Event("warn", "google login failed", map[string]any{"error": err.Error()})
		a.redirectError(w, r, "login_failed")
		return
	}
	a.setRefreshCookie(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"user_id":    res.User.ID.String(),
		"session_id": res.Session.ID.String(),
		"method":     res.Session.AuthMethod,
		"new_user":   isNew,
	})

	q := url.Values{}
	q.Set("token", res.Tokens.AccessToken)
	if isNew {
		q.Set("newUser", "true")
	}
	http.Redirect(w, r, a.cfg.FrontendURL+"/auth/callback?"+q.Encode(), http.StatusFound)
}

func (a *API) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	q := url.Values{}
	q.Set("error", reason)
	http.Redirect(w, r, a.cfg.FrontendURL+"/auth/error?"+q.Encode(), http.StatusFound)
}
