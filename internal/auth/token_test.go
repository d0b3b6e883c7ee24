package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testUser() *User {
	return &User{
		ID:    uuid.New(),
		Email: "bob@example.com",
		Roles: []string{RoleUser},
	}
}

func TestNewTokenCodecRequiresSecret(t *testing.T) {
	if _, err := NewTokenCodec("", time.Minute); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewTokenCodecClampsTTL(t *testing.T) {
	codec, err := NewTokenCodec("test-secret", 48*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec failed: %v", err)
	}
	if codec.AccessTTL() != defaultAccessTTL {
		t.Fatalf("expected clamped TTL %v, got %v", defaultAccessTTL, codec.AccessTTL())
	}
}

func TestIssueAndParseAccessToken(t *testing.T) {
	codec, err := NewTokenCodec("test-secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenCodec failed: %v", err)
	}
	user := testUser()
	sessionID := uuid.New()

	token, expiresAt, err := codec.IssueAccessToken(user, sessionID)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if time.Until(expiresAt) > 15*time.Minute {
		t.Fatal("expiry exceeds the configured TTL")
	}

	claims, err := codec.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate failed: %v", err)
	}
	subject, err := claims.SubjectID()
	if err != nil {
		t.Fatalf("SubjectID failed: %v", err)
	}
	if subject != user.ID {
		t.Fatalf("subject = %s, want %s", subject, user.ID)
	}
	if claims.Session() != sessionID {
		t.Fatalf("sid = %s, want %s", claims.Session(), sessionID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleUser {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	codec, _ := NewTokenCodec("secret-a", time.Minute)
	other, _ := NewTokenCodec("secret-b", time.Minute)

	token, _, err := codec.IssueAccessToken(testUser(), uuid.New())
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if _, err := other.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	codec, _ := NewTokenCodec("test-secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	codec.now = func() time.Time { return issued }

	token, _, err := codec.IssueAccessToken(testUser(), uuid.New())
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	codec.now = time.Now
	if _, err := codec.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	codec, _ := NewTokenCodec("test-secret", time.Minute)
	for _, token := range []string{"", "   ", "not.a.jwt"} {
		if _, err := codec.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseAndValidate(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}
