package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mdcms/api/internal/app"
	"mdcms/api/internal/authpw"
	"mdcms/api/internal/config"
	"mdcms/api/internal/connect"
	"mdcms/api/internal/docstore"
	"mdcms/api/internal/email"
	"mdcms/api/internal/gitfs"
	"mdcms/api/internal/github"
	"mdcms/api/internal/ratelimit"
	"mdcms/api/internal/search"
	"mdcms/api/internal/session"
	"mdcms/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	githubClient := github.NewClient(cfg.GitHubAPIURL)
	oauth := github.NewOAuth(github.OAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
	})
	connectSvc := connect.New(dataStore, oauth, githubClient, connect.DefaultTTL, connect.DefaultSweepInterval)
	defer connectSvc.Close()

	var gateway docstore.Gateway = githubClient
	if cfg.ContentBackend == "local" {
		log.Printf("Using local git repositories under %s", cfg.ContentReposDir)
		if err := os.MkdirAll(cfg.ContentReposDir, 0o755); err != nil {
			log.Fatalf("failed to create repos dir: %v", err)
		}
		gateway = gitfs.New(cfg.ContentReposDir)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	limiter := ratelimit.New(ratelimit.DefaultMaxAttempts, ratelimit.DefaultWindow, ratelimit.DefaultSweepInterval)
	defer limiter.Close()

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured; magic link tokens are returned in API responses")
	}

	service := app.New(
		cfg,
		dataStore,
		sessions,
		authpw.NewService(dataStore),
		docstore.New(gateway),
		connectSvc,
		githubClient,
		limiter,
		mailer,
		searchService,
	)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Markdown CMS API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
