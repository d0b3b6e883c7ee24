package auth

import (
	"context"
	"errors"
	"testing"
)

func TestSplitName(t *testing.T) {
	cases := []struct {
		identity    ExternalIdentity
		first, last string
	}{
		{ExternalIdentity{GivenName: "Ada", FamilyName: "Lovelace"}, "Ada", "Lovelace"},
		{ExternalIdentity{Name: "Ada Lovelace"}, "Ada", "Lovelace"},
		{ExternalIdentity{Name: "Ada Augusta King Lovelace"}, "Ada", "Augusta King Lovelace"},
		{ExternalIdentity{Name: "Prince"}, "Prince", ""},
		{ExternalIdentity{}, "", ""},
		// structured fields win over the display name
		{ExternalIdentity{GivenName: "Ada", Name: "Somebody Else"}, "Ada", ""},
	}
	for _, tc := range cases {
		first, last := SplitName(&tc.identity)
		if first != tc.first || last != tc.last {
			t.Fatalf("SplitName(%+v) = (%q, %q), want (%q, %q)", tc.identity, first, last, tc.first, tc.last)
		}
	}
}

func TestSanitizeUsername(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace":   "adalovelace",
		"weird !! name":  "weirdname",
		"ab":             "",
		"--":             "",
		"under_score-ok": "under_score-ok",
	}
	for in, want := range cases {
		if got := sanitizeUsername(in); got != want {
			t.Fatalf("sanitizeUsername(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveUsernameDisambiguation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mk := func(id string) *User {
		user, _, err := env.svc.findOrCreateUser(ctx, &ExternalIdentity{
			Provider:       MethodGoogle,
			ProviderUserID: id,
			Email:          id + "@example.com",
			Name:           "Ada Lovelace",
		})
		if err != nil {
			t.Fatalf("findOrCreateUser failed: %v", err)
		}
		return user
	}
	first := mk("g-1")
	second := mk("g-2")
	third := mk("g-3")

	if first.Username != "adalovelace" {
		t.Fatalf("first username = %q", first.Username)
	}
	if second.Username != "adalovelace1" {
		t.Fatalf("second username = %q", second.Username)
	}
	if third.Username != "adalovelace2" {
		t.Fatalf("third username = %q", third.Username)
	}
}

func TestDeriveUsernameFallsBackToEmailLocalPart(t *testing.T) {
	env := newTestEnv(t)
	user, _, err := env.svc.findOrCreateUser(context.Background(), &ExternalIdentity{
		Provider:       MethodGoogle,
		ProviderUserID: "g-1",
		Email:          "jamie.rivers@example.com",
	})
	if err != nil {
		t.Fatalf("findOrCreateUser failed: %v", err)
	}
	if user.Username != "jamierivers" {
		t.Fatalf("username = %q", user.Username)
	}
}

func TestFindOrCreateUserIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := &ExternalIdentity{
		Provider:       MethodGoogle,
		ProviderUserID: "google-777",
		Email:          "oauth@example.com",
		Name:           "Jamie Rivers",
	}

	first, isNew, err := env.svc.findOrCreateUser(ctx, identity)
	if err != nil || !isNew {
		t.Fatalf("first call: %v, isNew=%v", err, isNew)
	}
	if !first.EmailVerified {
		t.Fatal("OAuth-created account must arrive pre-verified")
	}

	second, isNew, err := env.svc.findOrCreateUser(ctx, identity)
	if err != nil || isNew {
		t.Fatalf("second call: %v, isNew=%v", err, isNew)
	}
	if second.ID != first.ID {
		t.Fatal("same identity must resolve to the same user")
	}

	// the provider's unusable random password never verifies
	if _, err := env.svc.Login(ctx, Credentials{Identifier: "oauth@example.com", Password: ""}, Origin{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestFindOrCreateUserLinksByEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	existing, err := env.svc.Register(ctx, RegisterInput{Email: "bob@example.com", Username: "bobby", Password: "password123"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if existing.EmailVerified {
		t.Fatal("precondition: account starts unverified")
	}

	user, isNew, err := env.svc.findOrCreateUser(ctx, &ExternalIdentity{
		Provider:       MethodGoogle,
		ProviderUserID: "google-9",
		Email:          "bob@example.com",
		Name:           "Bob Example",
	})
	if err != nil {
		t.Fatalf("findOrCreateUser failed: %v", err)
	}
	if isNew {
		t.Fatal("email match must link, not create")
	}
	if user.ID != existing.ID {
		t.Fatal("linked to the wrong user")
	}
	if !user.EmailVerified {
		t.Fatal("provider-asserted email must mark the account verified")
	}
	exists, err := env.store.ExternalLogins(ctx).ExistsForUser(ctx, existing.ID, MethodGoogle)
	if err != nil || !exists {
		t.Fatalf("external login not recorded: %v", err)
	}
}

func TestNewGoogleBridgeRequiresCredentials(t *testing.T) {
	if _, err := NewGoogleBridge(GoogleConfig{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
