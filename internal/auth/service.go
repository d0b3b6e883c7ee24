package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"linqyard.app/internal/mail"
	"linqyard.app/internal/obs"
)

// Refresh token windows. The long window applies when the client asks to be
// remembered; rotation preserves whichever window the chain started with.
const (
	RefreshShortWindow = 14 * 24 * time.Hour
	RefreshLongWindow  = 60 * 24 * time.Hour
)

// Verification code lifetimes.
const (
	signupCodeTTL = 24 * time.Hour
	resendCodeTTL = 15 * time.Minute
	resetCodeTTL  = 15 * time.Minute
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,30}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Service orchestrates the authentication flows over the backing store.
type Service struct {
	store      Store
	codec      *TokenCodec
	settings   *Settings
	mailer     mail.Publisher
	bcryptCost int
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost overrides the password hashing work factor.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(store Store, codec *TokenCodec, settings *Settings, mailer mail.Publisher, opts ...Option) *Service {
	s := &Service{
		store:      store,
		codec:      codec,
		settings:   settings,
		mailer:     mailer,
		bcryptCost: DefaultBcryptCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// User returns the account by id.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.store.Users(ctx).Find(ctx, id)
}

// Origin describes where a request came from, recorded on sessions.
type Origin struct {
	UserAgent string
	IPAddress string
}

// TokenPair is everything a successful login or refresh hands to the client.
// RefreshToken is the plaintext secret; it is never stored or logged.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a credential or OAuth login.
type LoginResult struct {
	User    *User
	Session *Session
	Tokens  TokenPair
}

// RegisterInput are the fields accepted at signup.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a user with the default role and an unverified email, and
// queues the verification email. Mail delivery is best-effort; a queue failure
// does not undo the registration.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if s.settings.SignupDisabled(ctx) {
		return nil, ErrSignupDisabled
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.TrimSpace(in.Username)
	if !emailRe.MatchString(email) {
		return nil, fmt.Errorf("%w: email format", ErrValidation)
	}
	if !usernameRe.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-30 characters of letters, digits, _ or -", ErrValidation)
	}
	if err := s.settings.ValidatePassword(ctx, in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           uuid.New(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Roles:        []string{RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.sendCode(ctx, email, PurposeSignup, signupCodeTTL, mail.KindVerification); err != nil {
		obs.Event("warn", "verification email not queued", map[string]any{"error": err.Error()})
	}
	return user, nil
}

// sendCode issues a fresh verification code and queues the email carrying it.
func (s *Service) sendCode(ctx context.Context, email, purpose string, ttl time.Duration, kind string) error {
	code, codeHash, err := NewVerificationCode()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	vc := &VerificationCode{
		ID:        uuid.New(),
		Email:     email,
		CodeHash:  codeHash,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.store.VerificationCodes(ctx).Create(ctx, vc); err != nil {
		return err
	}
	return s.mailer.Publish(ctx, mail.Event{Kind: kind, Email: email, Code: code, CreatedAt: now})
}

// Credentials are what a password login presents.
type Credentials struct {
	Identifier string
	Password   string
	RememberMe bool
}

// Login verifies credentials and opens a new session with its first refresh
// token. Unknown identifier and wrong password are indistinguishable to the
// caller; an unverified email is reported separately.
func (s *Service) Login(ctx context.Context, creds Credentials, origin Origin) (*LoginResult, error) {
	user, err := s.store.Users(ctx).FindByIdentifier(ctx, strings.TrimSpace(creds.Identifier))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.CountLogin(MethodEmailPassword, "invalid")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.DeletedAt != nil || !user.IsActive {
		obs.CountLogin(MethodEmailPassword, "invalid")
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(user.PasswordHash, creds.Password) {
		obs.CountLogin(MethodEmailPassword, "invalid")
		return nil, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		obs.CountLogin(MethodEmailPassword, "unverified")
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidCredentials)
	}

	res, err := s.openSession(ctx, user, MethodEmailPassword, origin, creds.RememberMe)
	if err != nil {
		return nil, err
	}
	obs.CountLogin(MethodEmailPassword, "ok")
	return res, nil
}

// openSession creates the session and the first refresh token of a new family
// in one store operation, then signs the access token.
func (s *Service) openSession(ctx context.Context, user *User, method string, origin Origin, rememberMe bool) (*LoginResult, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:         uuid.New(),
		UserID:     user.ID,
		AuthMethod: method,
		UserAgent:  origin.UserAgent,
		IPAddress:  origin.IPAddress,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	window := RefreshShortWindow
	if rememberMe {
		window = RefreshLongWindow
	}
	plaintext, tok, err := s.newRefreshToken(user.ID, sess.ID, uuid.New(), window)
	if err != nil {
		return nil, err
	}
	if err := s.store.Sessions(ctx).Open(ctx, sess, tok); err != nil {
		return nil, err
	}

	access, accessExp, err := s.codec.IssueAccessToken(user, sess.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:    user,
		Session: sess,
		Tokens: TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     plaintext,
			RefreshExpiresAt: tok.ExpiresAt,
		},
	}, nil
}

func (s *Service) newRefreshToken(userID, sessionID, familyID uuid.UUID, window time.Duration) (string, *RefreshToken, error) {
	plaintext, hash, err := NewOpaqueSecret()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	tok := &RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: hash,
		FamilyID:  familyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(window),
	}
	return plaintext, tok, nil
}

// Refresh rotates the presented refresh secret and re-issues an access token.
// Exactly one of two concurrent calls with the same secret can win; the loser
// sees ErrTokenRevoked.
func (s *Service) Refresh(ctx context.Context, presentedSecret string) (*LoginResult, error) {
	old, err := s.store.RefreshTokens(ctx).FindByHash(ctx, HashSecret(presentedSecret))
	if err != nil {
		obs.CountRotation("not_found")
		return nil, ErrTokenNotFound
	}
	now := s.now().UTC()
	if old.Revoked() {
		if s.settings.BreachDetection(ctx) {
			n, ferr := s.store.RefreshTokens(ctx).RevokeFamily(ctx, old.FamilyID, now)
			if ferr == nil && n > 0 {
				obs.CountSessionsRevoked("breach", 1)
			}
		}
		obs.CountRotation("revoked")
		return nil, ErrTokenRevoked
	}
	if old.Expired(now) {
		obs.CountRotation("expired")
		return nil, ErrTokenExpired
	}

	sess, err := s.store.Sessions(ctx).Find(ctx, old.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Revoked() {
		obs.CountRotation("revoked")
		return nil, ErrTokenRevoked
	}
	user, err := s.store.Users(ctx).Find(ctx, old.UserID)
	if err != nil {
		return nil, err
	}
	if user.DeletedAt != nil || !user.IsActive {
		obs.CountRotation("revoked")
		return nil, ErrTokenRevoked
	}

	// The new token keeps the window length the chain was issued with.
	window := old.ExpiresAt.Sub(old.IssuedAt)
	plaintext, tok, err := s.newRefreshToken(old.UserID, old.SessionID, old.FamilyID, window)
	if err != nil {
		return nil, err
	}
	if err := s.store.RefreshTokens(ctx).Rotate(ctx, old.ID, tok); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			obs.CountRotation("lost_race")
		}
		return nil, err
	}
	if err := s.store.Sessions(ctx).Touch(ctx, sess.ID, now); err != nil {
		obs.Event("warn", "session touch failed", map[string]any{"error": err.Error()})
	}

	access, accessExp, err := s.codec.IssueAccessToken(user, sess.ID)
	if err != nil {
		return nil, err
	}
	obs.CountRotation("ok")
	return &LoginResult{
		User:    user,
		Session: sess,
		Tokens: TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     plaintext,
			RefreshExpiresAt: tok.ExpiresAt,
		},
	}, nil
}

// Logout revokes the caller's session. A presented refresh secret identifies
// the session to revoke; failing that, the access-token claim does. A missing
// or unknown secret means the caller is already logged out, not an error.
func (s *Service) Logout(ctx context.Context, presentedSecret string, claimSessionID uuid.UUID) error {
	now := s.now().UTC()
	if presentedSecret != "" {
		tok, err := s.store.RefreshTokens(ctx).FindByHash(ctx, HashSecret(presentedSecret))
		if err == nil {
			if err := s.store.Sessions(ctx).Revoke(ctx, tok.SessionID, now); err != nil {
				return err
			}
			obs.CountSessionsRevoked("logout", 1)
			return nil
		}
	}
	if claimSessionID != uuid.Nil {
		if err := s.store.Sessions(ctx).Revoke(ctx, claimSessionID, now); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		obs.CountSessionsRevoked("logout", 1)
	}
	return nil
}
