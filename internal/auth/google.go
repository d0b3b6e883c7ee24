package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"linqyard.app/internal/obs"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ExternalIdentity is a profile asserted by an OAuth provider.
type ExternalIdentity struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	GivenName      string
	FamilyName     string
	Picture        string
}

// GoogleBridge exchanges authorization codes with Google and fetches the
// user's profile.
type GoogleBridge struct {
	cfg         *oauth2.Config
	userInfoURL string
}

// GoogleConfig carries the provider credentials.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func NewGoogleBridge(cfg GoogleConfig) (*GoogleBridge, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: google client credentials", ErrConfiguration)
	}
	return &GoogleBridge{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}, nil
}

// AuthCodeURL builds the provider authorize URL for the given opaque state.
func (b *GoogleBridge) AuthCodeURL(state string) string {
	return b.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// CompleteAuthorizationCode exchanges the code and fetches the profile.
func (b *GoogleBridge) CompleteAuthorizationCode(ctx context.Context, code string) (*ExternalIdentity, error) {
	tok, err := b.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	resp, err := b.cfg.Client(ctx, tok).Get(b.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch user info: status %d: %s", resp.StatusCode, body)
	}

	var info struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		Name       string `json:"name"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Picture    string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	if info.ID == "" || info.Email == "" {
		return nil, errors.New("provider returned incomplete profile")
	}
	return &ExternalIdentity{
		Provider:       MethodGoogle,
		ProviderUserID: info.ID,
		Email:          strings.ToLower(info.Email),
		Name:           info.Name,
		GivenName:      info.GivenName,
		FamilyName:     info.FamilyName,
		Picture:        info.Picture,
	}, nil
}

// LoginWithExternalIdentity finds or creates the local account for a
// provider-asserted identity and opens a session for it.
func (s *Service) LoginWithExternalIdentity(ctx context.Context, identity *ExternalIdentity, origin Origin) (*LoginResult, bool, error) {
	user, isNew, err := s.findOrCreateUser(ctx, identity)
	if err != nil {
		obs.CountLogin(identity.Provider, "error")
		return nil, false, err
	}
	if user.DeletedAt != nil || !user.IsActive {
		obs.CountLogin(identity.Provider, "invalid")
		return nil, false, ErrInvalidCredentials
	}
	res, err := s.openSession(ctx, user, identity.Provider, origin, false)
	if err != nil {
		return nil, false, err
	}
	obs.CountLogin(identity.Provider, "ok")
	return res, isNew, nil
}

// findOrCreateUser resolves the provider identity to a local user:
// an existing external login wins, then an email match gets linked, and
// otherwise a new pre-verified account is created.
func (s *Service) findOrCreateUser(ctx context.Context, identity *ExternalIdentity) (*User, bool, error) {
	now := s.now().UTC()

	el, err := s.store.ExternalLogins(ctx).Find(ctx, identity.Provider, identity.ProviderUserID)
	if err == nil {
		user, err := s.store.Users(ctx).Find(ctx, el.UserID)
		if err != nil {
			return nil, false, err
		}
		if !user.EmailVerified {
			if err := s.store.Users(ctx).SetEmailVerified(ctx, user.ID, now); err != nil {
				return nil, false, err
			}
			user.EmailVerified = true
		}
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	user, err := s.store.Users(ctx).FindByEmail(ctx, identity.Email)
	if err == nil {
		if err := s.store.ExternalLogins(ctx).Create(ctx, &ExternalLogin{
			UserID:         user.ID,
			Provider:       identity.Provider,
			ProviderUserID: identity.ProviderUserID,
			ProviderEmail:  identity.Email,
			LinkedAt:       now,
		}); err != nil {
			return nil, false, err
		}
		if !user.EmailVerified {
			if err := s.store.Users(ctx).SetEmailVerified(ctx, user.ID, now); err != nil {
				return nil, false, err
			}
			user.EmailVerified = true
		}
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	first, last := SplitName(identity)
	username, err := s.deriveUsername(ctx, identity)
	if err != nil {
		return nil, false, err
	}
	// The account is OAuth-only until the user sets a password; the stored
	// hash is random so no password can ever verify against it.
	unusable, _, err := NewOpaqueSecret()
	if err != nil {
		return nil, false, err
	}
	hash, err := HashPassword(unusable, s.bcryptCost)
	if err != nil {
		return nil, false, err
	}
	user = &User{
		ID:            uuid.New(),
		Email:         identity.Email,
		Username:      username,
		PasswordHash:  hash,
		EmailVerified: true,
		IsActive:      true,
		FirstName:     first,
		LastName:      last,
		DisplayName:   identity.Name,
		AvatarURL:     identity.Picture,
		Roles:         []string{RoleUser},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Users(ctx).CreateWithExternalLogin(ctx, user, &ExternalLogin{
		UserID:         user.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		ProviderEmail:  identity.Email,
		LinkedAt:       now,
	}); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// SplitName prefers the provider's structured name fields and falls back to
// splitting the display name. A single-token name yields an empty last name.
func SplitName(identity *ExternalIdentity) (first, last string) {
	if identity.GivenName != "" || identity.FamilyName != "" {
		return identity.GivenName, identity.FamilyName
	}
	parts := strings.Fields(identity.Name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// deriveUsername builds a username from the display name, falling back to
// the email local part, then disambiguates collisions with a numeric suffix.
func (s *Service) deriveUsername(ctx context.Context, identity *ExternalIdentity) (string, error) {
	base := sanitizeUsername(identity.Name)
	if base == "" {
		local, _, _ := strings.Cut(identity.Email, "@")
		base = sanitizeUsername(local)
	}
	if base == "" {
		base = "user"
	}

	candidate := base
	for i := 1; ; i++ {
		exists, err := s.store.Users(ctx).UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}
}

func sanitizeUsername(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 30 {
		out = out[:30]
	}
	if len(out) < 3 {
		return ""
	}
	return out
}
