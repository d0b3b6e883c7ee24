package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://linqyard.com"}

	cases := []struct {
		origin   string
		allowDev bool
		want     bool
	}{
		{"https://linqyard.com", false, true},
		{"HTTPS://LINQYARD.COM", false, true},
		{"https://evil.example", false, false},
		{"http://localhost:3000", true, true},
		{"http://localhost:3000", false, false},
		{"http://127.0.0.1:5173", true, true},
		{"http://127.0.0.1:5173", false, false},
	}
	for _, tc := range cases {
		if got := originAllowed(tc.origin, allowed, tc.allowDev); got != tc.want {
			t.Fatalf("originAllowed(%q, allowDev=%v)=%v, want %v", tc.origin, tc.allowDev, got, tc.want)
		}
	}
}

func TestCORSLocalhostGatedInProduction(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := CORS([]string{"https://linqyard.com"}, false)(next)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("localhost origin credentialed in production config: %q", got)
	}

	req.Header.Set("Origin", "https://linqyard.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://linqyard.com" {
		t.Fatalf("allow-listed origin not credentialed: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Access-Control-Allow-Credentials = %q", got)
	}
}
