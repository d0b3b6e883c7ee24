package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"linqyard.app/internal/ids"
)

const (
	defaultAccessTTL = 15 * time.Minute
	maxAccessTTL     = 24 * time.Hour

	issuerName = "linqyard"
)

// Claims are the access-token claims used across the service. The session id
// travels under the single canonical name "sid".
type Claims struct {
	SessionID string   `json:"sid,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 access tokens.
type TokenCodec struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenCodec constructs a codec. The TTL is clamped to a sane maximum so a
// misconfigured environment cannot mint day-long access tokens by accident.
func NewTokenCodec(secret string, accessTTL time.Duration) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: access token secret", ErrConfiguration)
	}
	if accessTTL <= 0 || accessTTL > maxAccessTTL {
		accessTTL = defaultAccessTTL
	}
	return &TokenCodec{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// IssueAccessToken signs a short-lived token for the user and session.
func (c *TokenCodec) IssueAccessToken(user *User, sessionID uuid.UUID) (token string, expiresAt time.Time, err error) {
	now := c.now().UTC()
	expiresAt = now.Add(c.accessTTL)
	claims := Claims{
		SessionID: sessionID.String(),
		Roles:     user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAndValidate verifies the signature and required claims.
func (c *TokenCodec) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return c.secret, nil
	},
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SubjectID returns the user id carried by the claims.
func (cl *Claims) SubjectID() (uuid.UUID, error) {
	id, err := uuid.Parse(cl.Subject)
	if err != nil {
		return uuid.Nil, errors.Join(ErrInvalidToken, err)
	}
	return id, nil
}

// Session returns the session id claim, or uuid.Nil when absent.
func (cl *Claims) Session() uuid.UUID {
	if cl.SessionID == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(cl.SessionID)
	if err != nil {
		return uuid.Nil
	}
	return id
}
