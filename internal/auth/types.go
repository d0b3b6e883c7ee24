package auth

import (
	"time"

	"github.com/google/uuid"
)

// Role names form a fixed catalog seeded by migrations.
const (
	RoleAdmin    = "admin"
	RoleMod      = "mod"
	RoleUserPro  = "user_pro"
	RoleUserPlus = "user_plus"
	RoleUser     = "user"
)

// Auth method tags recorded on sessions.
const (
	MethodEmailPassword = "EmailPassword"
	MethodGoogle        = "Google"
)

// Verification code purposes.
const (
	PurposeSignup        = "Signup"
	PurposePasswordReset = "PasswordReset"
)

// User is a registered account. Deletion anonymizes rather than removes.
type User struct {
	ID            uuid.UUID
	Email         string
	Username      string
	PasswordHash  string
	EmailVerified bool
	IsActive      bool
	FirstName     string
	LastName      string
	DisplayName   string
	AvatarURL     string
	Roles         []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Session is one authenticated device/browser context. It owns every refresh
// token issued under it; revoking the session revokes them all atomically.
type Session struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	AuthMethod string
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool { return s != nil && s.RevokedAt != nil }

// RefreshToken is one link in a session's rotation chain. FamilyID is stable
// across the chain; ReplacedByID points forward to the token that superseded
// this one. At most one token per family may be unrevoked at any instant.
type RefreshToken struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	SessionID    uuid.UUID
	TokenHash    string
	FamilyID     uuid.UUID
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	ReplacedByID *uuid.UUID
}

// Revoked reports whether the token has been revoked.
func (t *RefreshToken) Revoked() bool { return t != nil && t.RevokedAt != nil }

// Expired reports whether the token is past its expiry at the given instant.
func (t *RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// ExternalLogin links a local user to an identity asserted by a third-party
// provider. Unique on (provider, provider user id).
type ExternalLogin struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Provider       string
	ProviderUserID string
	ProviderEmail  string
	LinkedAt       time.Time
}

// VerificationCode is a single-use, time-limited code proving mailbox access.
// Only the hash of the code is stored.
type VerificationCode struct {
	ID         uuid.UUID
	Email      string
	CodeHash   string
	Purpose    string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Consumed reports whether the code has already been used.
func (c *VerificationCode) Consumed() bool { return c != nil && c.ConsumedAt != nil }
