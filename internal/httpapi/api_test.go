package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"linqyard.app/internal/auth"
	"linqyard.app/internal/mail"
)

type captureMailer struct {
	mu     sync.Mutex
	events []mail.Event
}

func (m *captureMailer) Publish(ctx context.Context, ev mail.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *captureMailer) Close() error { return nil }

func (m *captureMailer) lastCode(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Kind == kind {
			return m.events[i].Code
		}
	}
	return ""
}

type testServer struct {
	srv    *httptest.Server
	client *http.Client
	mailer *captureMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := auth.NewMemoryStore()
	mailer := &captureMailer{}
	codec, err := auth.NewTokenCodec("test-secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenCodec failed: %v", err)
	}
	svc := auth.NewService(store, codec,
		auth.NewSettings(store.Settings(context.Background()), nil),
		mailer, auth.WithBcryptCost(4))

	api := New(ReadyProbe{}, svc, codec, nil, Config{
		Version:     "test",
		FrontendURL: "http://localhost:3000",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New failed: %v", err)
	}
	return &testServer{
		srv:    srv,
		client: &http.Client{Jar: jar},
		mailer: mailer,
	}
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func dataField(t *testing.T, payload map[string]any, key string) any {
	t.Helper()
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("no data envelope in %v", payload)
	}
	return data[key]
}

func TestRegisterVerifyLoginRefreshLogout(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "bob@example.com",
		"username": "bobby",
		"password": "password123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	// login before verification
	resp, _ = ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"emailOrUsername": "bobby",
		"password":        "password123",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unverified login status = %d", resp.StatusCode)
	}

	code := ts.mailer.lastCode(mail.KindVerification)
	if code == "" {
		t.Fatal("no verification code was mailed")
	}
	resp, _ = ts.do(t, http.MethodPost, "/auth/verify-email", "", map[string]any{
		"email": "bob@example.com",
		"token": code,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}

	resp, payload := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"emailOrUsername": "bobby",
		"password":        "password123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	access, _ := dataField(t, payload, "accessToken").(string)
	if access == "" {
		t.Fatal("no access token in login response")
	}
	serverURL, _ := url.Parse(ts.srv.URL)
	var refreshCookie string
	for _, c := range ts.client.Jar.Cookies(serverURL) {
		if c.Name == refreshCookieName {
			refreshCookie = c.Value
		}
	}
	if refreshCookie == "" {
		t.Fatal("login did not set the refresh cookie")
	}

	// refresh via cookie only
	resp, payload = ts.do(t, http.MethodPost, "/auth/refresh", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	if tok, _ := dataField(t, payload, "accessToken").(string); tok == "" {
		t.Fatal("no access token in refresh response")
	}

	// the pre-rotation secret in the body is now rejected
	resp, _ = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": refreshCookie})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stale refresh status = %d", resp.StatusCode)
	}

	// re-login to get a clean chain, then logout and verify the chain is dead
	resp, _ = ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"emailOrUsername": "bobby",
		"password":        "password123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relogin status = %d", resp.StatusCode)
	}
	var lastSecret string
	for _, c := range ts.client.Jar.Cookies(serverURL) {
		if c.Name == refreshCookieName {
			lastSecret = c.Value
		}
	}
	resp, _ = ts.do(t, http.MethodPost, "/auth/logout", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": lastSecret})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-logout refresh status = %d", resp.StatusCode)
	}
}

func TestForgotPasswordResponsesAreIdentical(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "exists@x.com",
		"username": "existing",
		"password": "password123",
	})

	fetch := func(email string) (int, string) {
		body, _ := json.Marshal(map[string]any{"email": email})
		req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/auth/forgot-password", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		// pin the correlation id so the echoed meta cannot differ
		req.Header.Set("X-Request-Id", "fixed-rid")
		resp, err := ts.client.Do(req)
		if err != nil {
			t.Fatalf("forgot-password: %v", err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		return resp.StatusCode, string(raw)
	}

	codeA, bodyA := fetch("exists@x.com")
	codeB, bodyB := fetch("doesnotexist@x.com")
	if codeA != http.StatusOK || codeB != http.StatusOK {
		t.Fatalf("statuses = %d, %d", codeA, codeB)
	}
	if bodyA != bodyB {
		t.Fatalf("bodies differ:\n%s\n%s", bodyA, bodyB)
	}
}

func TestRegisterUsernameValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		username string
		want     int
	}{
		{"ab", http.StatusBadRequest},
		{"valid_user-1", http.StatusCreated},
		{"bad user!", http.StatusBadRequest},
	}
	for i, tc := range cases {
		resp, _ := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
			"email":    "user" + string(rune('a'+i)) + "@example.com",
			"username": tc.username,
			"password": "password123",
		})
		if resp.StatusCode != tc.want {
			t.Fatalf("register %q status = %d, want %d", tc.username, resp.StatusCode, tc.want)
		}
	}
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/auth/me", "/profile/sessions", "/auth/set-password"} {
		method := http.MethodGet
		if strings.Contains(path, "set-password") {
			method = http.MethodPost
		}
		resp, _ := ts.do(t, method, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s without token: status = %d", path, resp.StatusCode)
		}
	}
}

func TestSessionListingAndLogoutAll(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "bob@example.com",
		"username": "bobby",
		"password": "password123",
	})
	code := ts.mailer.lastCode(mail.KindVerification)
	ts.do(t, http.MethodPost, "/auth/verify-email", "", map[string]any{
		"email": "bob@example.com",
		"token": code,
	})

	login := func() string {
		resp, payload := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
			"emailOrUsername": "bobby",
			"password":        "password123",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login status = %d", resp.StatusCode)
		}
		access, _ := dataField(t, payload, "accessToken").(string)
		return access
	}
	login()
	login()
	access := login()

	resp, payload := ts.do(t, http.MethodGet, "/profile/sessions", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d", resp.StatusCode)
	}
	sessions, _ := dataField(t, payload, "sessions").([]any)
	if len(sessions) != 3 {
		t.Fatalf("expected 3 active sessions, got %d", len(sessions))
	}
	currentCount := 0
	for _, s := range sessions {
		if m, ok := s.(map[string]any); ok && m["current"] == true {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Fatalf("expected exactly one current session, got %d", currentCount)
	}

	resp, payload = ts.do(t, http.MethodPost, "/profile/sessions/logout-all", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout-all status = %d", resp.StatusCode)
	}
	if n, _ := dataField(t, payload, "loggedOutCount").(float64); n != 2 {
		t.Fatalf("loggedOutCount = %v, want 2", n)
	}

	resp, payload = ts.do(t, http.MethodGet, "/profile/sessions", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d", resp.StatusCode)
	}
	sessions, _ = dataField(t, payload, "sessions").([]any)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 surviving session, got %d", len(sessions))
	}
}

func TestMeReportsAuthMethod(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":     "bob@example.com",
		"username":  "bobby",
		"password":  "password123",
		"firstName": "Bob",
	})
	code := ts.mailer.lastCode(mail.KindVerification)
	ts.do(t, http.MethodPost, "/auth/verify-email", "", map[string]any{
		"email": "bob@example.com",
		"token": code,
	})
	_, payload := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"emailOrUsername": "bobby",
		"password":        "password123",
	})
	access, _ := dataField(t, payload, "accessToken").(string)

	resp, payload := ts.do(t, http.MethodGet, "/auth/me", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	if method, _ := dataField(t, payload, "authMethod").(string); method != auth.MethodEmailPassword {
		t.Fatalf("authMethod = %q", method)
	}
	user, _ := dataField(t, payload, "user").(map[string]any)
	if user["username"] != "bobby" {
		t.Fatalf("unexpected user payload: %v", user)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp, _ := ts.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
	}
}
