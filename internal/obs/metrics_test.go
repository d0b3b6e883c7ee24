package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/auth/login", "/auth/login"},
		{"/auth/refresh", "/auth/refresh"},
		{"/profile/sessions", "/profile/sessions"},
		{"/profile/sessions/abc", "/profile/sessions/:id"},
		{"/profile/sessions/7f9c0a2e-aaaa-bbbb-cccc-0123456789ab/logout", "/profile/sessions/:id/logout"},
		{"/profile/sessions/logout-all", "/profile/sessions/logout-all"},
		{"/profile/sessions?limit=10", "/profile/sessions"},
		{"/profile/sessions/abc?x=1", "/profile/sessions/:id"},
		{"/profile/sessions/abc/logout?x=1", "/profile/sessions/:id/logout"},
	}
	for _, tc := range cases {
		if got := CanonicalPath(tc.in); got != tc.want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
