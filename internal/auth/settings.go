package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tunable app_config keys.
const (
	SettingPasswordMinLength = "auth.password_min_length"
	SettingSignupDisabled    = "auth.signup_disabled"
	SettingBreachDetection   = "auth.refresh_breach_detection"
)

const (
	defaultPasswordMinLength = 8
	settingsCacheTTL         = time.Minute
)

// Settings reads tunables from app_config through an optional Redis
// read-through cache. A missing key or an unreachable cache never fails a
// request; the compiled-in default applies.
type Settings struct {
	store SettingsStore
	cache *redis.Client
}

func NewSettings(store SettingsStore, cache *redis.Client) *Settings {
	return &Settings{store: store, cache: cache}
}

func (s *Settings) get(ctx context.Context, key string) (string, bool) {
	if s.cache != nil {
		if v, err := s.cache.Get(ctx, "cfg:"+key).Result(); err == nil {
			return v, true
		}
	}
	v, err := s.store.Get(ctx, key)
	if err != nil {
		return "", false
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, "cfg:"+key, v, settingsCacheTTL).Err()
	}
	return v, true
}

func (s *Settings) PasswordMinLength(ctx context.Context) int {
	v, ok := s.get(ctx, SettingPasswordMinLength)
	if !ok {
		return defaultPasswordMinLength
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return defaultPasswordMinLength
	}
	return n
}

func (s *Settings) SignupDisabled(ctx context.Context) bool {
	return s.getBool(ctx, SettingSignupDisabled, false)
}

// BreachDetection reports whether reuse of a revoked refresh token revokes
// the whole token family. Off unless explicitly enabled.
func (s *Settings) BreachDetection(ctx context.Context) bool {
	return s.getBool(ctx, SettingBreachDetection, false)
}

func (s *Settings) getBool(ctx context.Context, key string, def bool) bool {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ValidatePassword checks a candidate password against the tunable policy.
func (s *Settings) ValidatePassword(ctx context.Context, password string) error {
	min := s.PasswordMinLength(ctx)
	if len(password) < min {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, min)
	}
	return nil
}
