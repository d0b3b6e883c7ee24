package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"linqyard.app/internal/auth"
	"linqyard.app/internal/config"
	"linqyard.app/internal/httpapi"
	"linqyard.app/internal/mail"
	"linqyard.app/internal/obs"
)

var commit = "unknown"

func main() {
	cfg := config.Load()

	obs.Init()
	obs.InitBuildInfo(cfg.Version, commit)

	// Backing store: Postgres when a DSN is set, in-memory otherwise so the
	// API can run locally without infrastructure.
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PGDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Println("LINQYARD_PG_DSN not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		cache = redis.NewClient(opts)
	}

	var mailer mail.Publisher
	if cfg.AMQPURL != "" {
		var err error
		mailer, err = mail.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("connect amqp: %v", err)
		}
	} else {
		log.Println("LINQYARD_AMQP_URL not set, logging mail events instead")
		mailer = mail.NewLogPublisher()
	}

	secret := cfg.AccessTokenSecret
	if secret == "" {
		if cfg.PGDSN != "" {
			log.Fatal("LINQYARD_ACCESS_TOKEN_SECRET is required")
		}
		// Dev-only: an ephemeral secret invalidates tokens on restart.
		var err error
		secret, _, err = auth.NewOpaqueSecret()
		if err != nil {
			log.Fatalf("generate dev secret: %v", err)
		}
		log.Println("LINQYARD_ACCESS_TOKEN_SECRET not set, using an ephemeral secret")
	}
	codec, err := auth.NewTokenCodec(secret, cfg.AccessTokenTTL)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	settings := auth.NewSettings(store.Settings(context.Background()), cache)
	svc := auth.NewService(store, codec, settings, mailer, auth.WithBcryptCost(cfg.BcryptCost))

	var google *auth.GoogleBridge
	if cfg.GoogleClientID != "" {
		google, err = auth.NewGoogleBridge(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		if err != nil {
			log.Fatalf("google bridge: %v", err)
		}
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, svc, codec, google, httpapi.Config{
		Version:        cfg.Version,
		FrontendURL:    cfg.FrontendURL,
		SecureCookies:  cfg.SecureCookies,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting linqyard-api %s on %s", cfg.Version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = mailer.Close()
	if cache != nil {
		_ = cache.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
