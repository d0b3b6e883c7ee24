package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"linqyard.app/internal/audit"
	"linqyard.app/internal/auth"
)

type sessionInfo struct {
	ID         string    `json:"id"`
	AuthMethod string    `json:"authMethod"`
	UserAgent  string    `json:"userAgent,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Current    bool      `json:"current"`
}

// handleSessions lists the caller's active sessions, flagging the one this
// request came from.
func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	current := a.currentSessionID(r, p)
	sessions, err := a.svc.ListSessions(r.Context(), p.UserID, current)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	out := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionInfo{
			ID:         s.ID.String(),
			AuthMethod: s.AuthMethod,
			UserAgent:  s.UserAgent,
			IPAddress:  s.IPAddress,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
			Current:    s.ID == current,
		})
	}
	writeData(w, r, http.StatusOK, map[string]any{"sessions": out})
}

// handleSessionByID handles POST /profile/sessions/{id}/logout.
func (a *API) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/profile/sessions/")
	idPart, action, _ := strings.Cut(rest, "/")
	if action != "logout" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(idPart)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", "invalid session id")
		return
	}
	if err := a.svc.RevokeSession(r.Context(), p.UserID, sessionID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSessionRevoked, map[string]any{"session_id": sessionID.String()})
	writeData(w, r, http.StatusOK, map[string]any{"message": "session revoked"})
}

// handleLogoutAll revokes every session except the current one.
func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	keep := a.currentSessionID(r, p)
	n, err := a.svc.RevokeOtherSessions(r.Context(), p.UserID, keep)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSessionsRevoked, map[string]any{"revoked": n})
	writeData(w, r, http.StatusOK, map[string]any{"loggedOutCount": n})
}

type deleteAccountRequest struct {
	Confirmation string `json:"confirmation"`
	Password     string `json:"password"`
}

// handleDeleteAccount requires the literal confirmation phrase plus the
// password, then anonymizes the account and revokes everything.
func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req deleteAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if err := a.svc.DeleteAccount(r.Context(), p.UserID, req.Confirmation, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.clearRefreshCookie(w)
	_ = audit.LogEvent(r.Context(), audit.EventAccountDeleted, nil)
	writeData(w, r, http.StatusOK, map[string]any{"message": "account deleted"})
}

// currentSessionID resolves which session issued this request, uuid.Nil when
// it cannot be identified.
func (a *API) currentSessionID(r *http.Request, p auth.Principal) uuid.UUID {
	cookieSecret := refreshSecretFrom(r, "")
	sess, err := a.svc.ResolveCurrentSession(r.Context(), p.UserID, p.SessionID, cookieSecret, requestOrigin(r))
	if err != nil {
		return uuid.Nil
	}
	return sess.ID
}
