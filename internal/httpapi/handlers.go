package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"linqyard.app/internal/auth"
	"linqyard.app/internal/obs"
)

// ReadyProbe pings the backing store for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the HTTP-layer knobs.
type Config struct {
	Version        string
	FrontendURL    string
	SecureCookies  bool
	AllowedOrigins []string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	cfg        Config
	svc        *auth.Service
	codec      *auth.TokenCodec
	google     *auth.GoogleBridge
}

func New(rp ReadyProbe, svc *auth.Service, codec *auth.TokenCodec, google *auth.GoogleBridge, cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		cfg:        cfg,
		svc:        svc,
		codec:      codec,
		google:     google,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth flows
	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("/auth/resend-verification", a.handleResendVerification)
	a.mux.HandleFunc("/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/auth/reset-password", a.handleResetPassword)
	a.mux.HandleFunc("/auth/set-password", a.handleSetPassword)
	a.mux.HandleFunc("/auth/me", a.handleMe)
	a.mux.HandleFunc("/auth/google", a.handleGoogleInit)
	a.mux.HandleFunc("/auth/google/callback", a.handleGoogleCallback)

	// session administration
	a.mux.HandleFunc("/profile/sessions", a.handleSessions)
	a.mux.HandleFunc("/profile/sessions/", a.handleSessionByID)
	a.mux.HandleFunc("/profile/sessions/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/profile/delete-account", a.handleDeleteAccount)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(a.cfg.AllowedOrigins, !a.cfg.SecureCookies)(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "linqyard-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "linqyard-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}
