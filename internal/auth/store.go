package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store describes persistence operations required by the auth subsystem.
// Entity accessors cover single-row operations; the compound methods execute
// multi-entity mutations inside one transaction so a failure rolls back the
// whole cascade.
type Store interface {
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	ExternalLogins(ctx context.Context) ExternalLoginStore
	VerificationCodes(ctx context.Context) VerificationCodeStore
	Settings(ctx context.Context) SettingsStore

	// ResetPassword updates the password hash, optionally marks the email
	// verified, consumes the reset code, and revokes every active refresh
	// token for the user. All or nothing.
	ResetPassword(ctx context.Context, userID uuid.UUID, newHash string, markVerified bool, codeID uuid.UUID, at time.Time) error

	// ChangePassword updates the password hash and revokes every active
	// refresh token for the user. All or nothing.
	ChangePassword(ctx context.Context, userID uuid.UUID, newHash string, at time.Time) error

	// DeleteAccount anonymizes the user row, revokes all sessions and refresh
	// tokens, and consumes pending verification codes addressed to the
	// pre-anonymization email. All or nothing.
	DeleteAccount(ctx context.Context, userID uuid.UUID, anonEmail, anonUsername, priorEmail string, at time.Time) error
}

// UserStore manages user rows and their role assignments.
type UserStore interface {
	// Create inserts the user and its role assignments. Email and username
	// uniqueness is case-insensitive; violations surface as ErrConflict.
	Create(ctx context.Context, u *User) error
	// CreateWithExternalLogin inserts the user, roles, and the provider link
	// in one transaction (first OAuth sign-in).
	CreateWithExternalLogin(ctx context.Context, u *User, el *ExternalLogin) error
	Find(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByIdentifier resolves an email or username, case-insensitively.
	FindByIdentifier(ctx context.Context, emailOrUsername string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	SetEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SessionStore manages authenticated contexts and their revocation cascades.
type SessionStore interface {
	// Open creates the session together with its first refresh token.
	Open(ctx context.Context, s *Session, tok *RefreshToken) error
	Find(ctx context.Context, id uuid.UUID) (*Session, error)
	// ListActiveByUser returns unrevoked sessions, most recently seen first.
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	// Revoke marks the session and every active refresh token under it
	// revoked, in one transaction. Revoking an already-revoked session is a
	// no-op.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	// RevokeAllExcept revokes every active session of the user (and their
	// tokens) except keep; keep may be uuid.Nil to revoke all. Returns the
	// number of sessions revoked.
	RevokeAllExcept(ctx context.Context, userID, keep uuid.UUID, at time.Time) (int, error)
}

// RefreshTokenStore manages the per-session rotation chains.
type RefreshTokenStore interface {
	FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Rotate atomically claims the old token (succeeds only if it is still
	// unrevoked at update time), points its replaced-by at the new token, and
	// inserts the new token. A lost race surfaces as ErrTokenRevoked and
	// leaves no trace of the new token.
	Rotate(ctx context.Context, oldID uuid.UUID, newTok *RefreshToken) error
	// RevokeFamily revokes every active token in the rotation family.
	RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int, error)
}

// ExternalLoginStore manages third-party identity links.
type ExternalLoginStore interface {
	Find(ctx context.Context, provider, providerUserID string) (*ExternalLogin, error)
	Create(ctx context.Context, el *ExternalLogin) error
	ExistsForUser(ctx context.Context, userID uuid.UUID, provider string) (bool, error)
}

// VerificationCodeStore manages single-use email codes.
type VerificationCodeStore interface {
	Create(ctx context.Context, c *VerificationCode) error
	// FindByHash returns the newest code matching (email, hash, purpose)
	// regardless of consumed/expired state; callers distinguish the failure.
	FindByHash(ctx context.Context, email, codeHash, purpose string) (*VerificationCode, error)
	Consume(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SettingsStore reads operator-tunable configuration values.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
}
