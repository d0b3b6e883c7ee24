// Package config loads service configuration from the environment, with an
// optional .env file for development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the API process needs to start.
type Config struct {
	Addr    string
	Version string

	PGDSN    string
	RedisURL string
	AMQPURL  string

	AccessTokenSecret string
	AccessTokenTTL    time.Duration
	BcryptCost        int

	FrontendURL    string
	SecureCookies  bool
	AllowedOrigins []string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

// Load reads the .env file when present, then the environment. Environment
// variables win over .env values.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:    get("LINQYARD_ADDR", ":8080"),
		Version: get("LINQYARD_VERSION", "dev"),

		PGDSN:    os.Getenv("LINQYARD_PG_DSN"),
		RedisURL: os.Getenv("LINQYARD_REDIS_URL"),
		AMQPURL:  os.Getenv("LINQYARD_AMQP_URL"),

		AccessTokenSecret: os.Getenv("LINQYARD_ACCESS_TOKEN_SECRET"),
		AccessTokenTTL:    duration("LINQYARD_ACCESS_TOKEN_TTL", 15*time.Minute),
		BcryptCost:        integer("LINQYARD_BCRYPT_COST", 12),

		FrontendURL:    get("LINQYARD_FRONTEND_URL", "http://localhost:3000"),
		SecureCookies:  boolean("LINQYARD_SECURE_COOKIES", false),
		AllowedOrigins: list("LINQYARD_ALLOWED_ORIGINS"),

		GoogleClientID:     os.Getenv("LINQYARD_GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("LINQYARD_GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("LINQYARD_GOOGLE_REDIRECT_URL"),
	}
}

func get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func list(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
