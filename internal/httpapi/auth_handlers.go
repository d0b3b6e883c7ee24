package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"linqyard.app/internal/audit"
	"linqyard.app/internal/auth"
)

const refreshCookieName = "refreshToken"

// userInfo is the client-facing account shape.
type userInfo struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	EmailVerified bool      `json:"emailVerified"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	DisplayName   string    `json:"displayName,omitempty"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	Roles         []string  `json:"roles"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toUserInfo(u *auth.User) userInfo {
	return userInfo{
		ID:            u.ID.String(),
		Email:         u.Email,
		Username:      u.Username,
		EmailVerified: u.EmailVerified,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		DisplayName:   u.DisplayName,
		AvatarURL:     u.AvatarURL,
		Roles:         u.Roles,
		CreatedAt:     u.CreatedAt,
	}
}

// setRefreshCookie installs the rotated refresh secret. Over HTTPS the cookie
// is cross-site capable (SameSite=None requires Secure); over plain HTTP in
// development it degrades to Lax.
func (a *API) setRefreshCookie(w http.ResponseWriter, secret string, expiresAt time.Time) {
	sameSite := http.SameSiteLaxMode
	if a.cfg.SecureCookies {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    secret,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: sameSite,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	sameSite := http.SameSiteLaxMode
	if a.cfg.SecureCookies {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: sameSite,
		MaxAge:   -1,
	})
}

// refreshSecretFrom returns the presented refresh secret, body value first,
// cookie as fallback.
func refreshSecretFrom(r *http.Request, bodySecret string) string {
	if bodySecret != "" {
		return bodySecret
	}
	if c, err := r.Cookie(refreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

func requestOrigin(r *http.Request) auth.Origin {
	return auth.Origin{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
}

// --- register / login / refresh / logout ---

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	user, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRegister, map[string]any{"user_id": user.ID.String()})
	writeData(w, r, http.StatusCreated, map[string]any{"user": toUserInfo(user)})
}

type loginRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
	RememberMe      bool   `json:"rememberMe"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), auth.Credentials{
		Identifier: req.EmailOrUsername,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	}, requestOrigin(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.setRefreshCookie(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"user_id":    res.User.ID.String(),
		"session_id": res.Session.ID.String(),
		"method":     res.Session.AuthMethod,
	})
	writeData(w, r, http.StatusOK, map[string]any{
		"accessToken": res.Tokens.AccessToken,
		"expiresAt":   res.Tokens.AccessExpiresAt,
		"user":        toUserInfo(res.User),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	// An empty body is fine: the cookie alone is a valid presentation.
	_ = decodeJSON(w, r, &req)

	secret := refreshSecretFrom(r, req.RefreshToken)
	if secret == "" {
		a.clearRefreshCookie(w)
		writeProblem(w, r, http.StatusUnauthorized, "InvalidCredentials", "invalid or expired token")
		return
	}
	res, err := a.svc.Refresh(r.Context(), secret)
	if err != nil {
		a.clearRefreshCookie(w)
		handleAuthError(w, r, err)
		return
	}
	a.setRefreshCookie(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)
	writeData(w, r, http.StatusOK, map[string]any{
		"accessToken": res.Tokens.AccessToken,
		"expiresAt":   res.Tokens.AccessExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	_ = decodeJSON(w, r, &req)

	// A bearer token may accompany logout; its sid locates the session when
	// no refresh secret is presented.
	claimSession := uuid.Nil
	if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
		if claims, err := a.codec.ParseAndValidate(token); err == nil {
			claimSession = claims.Session()
		}
	}

	if err := a.svc.Logout(r.Context(), refreshSecretFrom(r, req.RefreshToken), claimSession); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.clearRefreshCookie(w)
	writeData(w, r, http.StatusOK, map[string]any{"message": "logged out"})
}

// --- email verification and password flows ---

type verifyEmailRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if err := a.svc.VerifyEmail(r.Context(), req.Email, req.Token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"message": "email verified"})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if err := a.svc.ResendVerification(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"message": "if that account needs verification, an email is on its way",
	})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	// The response below is byte-identical whether or not the account exists.
	if err := a.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"message": "if that account exists, a reset email is on its way",
	})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"message": "password updated"})
}

type setPasswordRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordChanged, nil)
	writeData(w, r, http.StatusOK, map[string]any{"message": "password updated"})
}

// --- whoami ---

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	user, err := a.svc.User(r.Context(), p.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	authMethod := ""
	cookieSecret := refreshSecretFrom(r, "")
	if sess, err := a.svc.ResolveCurrentSession(r.Context(), p.UserID, p.SessionID, cookieSecret, requestOrigin(r)); err == nil {
		authMethod = sess.AuthMethod
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"user":       toUserInfo(user),
		"authMethod": authMethod,
	})
}
