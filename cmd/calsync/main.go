package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calsync/internal/activity"
	"github.com/macjediwizard/calsync/internal/auth"
	"github.com/macjediwizard/calsync/internal/caldav"
	"github.com/macjediwizard/calsync/internal/config"
	"github.com/macjediwizard/calsync/internal/cryptocodec"
	"github.com/macjediwizard/calsync/internal/dispatcher"
	"github.com/macjediwizard/calsync/internal/engine"
	"github.com/macjediwizard/calsync/internal/health"
	"github.com/macjediwizard/calsync/internal/notify"
	"github.com/macjediwizard/calsync/internal/provider"
	"github.com/macjediwizard/calsync/internal/scheduler"
	"github.com/macjediwizard/calsync/internal/store"
	"github.com/macjediwizard/calsync/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting calsync...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	encryptor, err := cryptocodec.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	ctx := context.Background()
	oidcProvider, err := auth.NewOIDCProvider(
		ctx,
		cfg.OIDC.Issuer,
		cfg.OIDC.ClientID,
		cfg.OIDC.ClientSecret,
		cfg.OIDC.RedirectURL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize OIDC provider: %v", err)
	}

	sessionManager := auth.NewSessionManager(cfg.Security.SessionSecret, cfg.IsProduction())

	// Provider registry. Google and the bare ICS bridge are always
	// available; the CalDAV adapter is wired to the single shared
	// destination calendar this deployment bridges events into.
	adapters := map[string]provider.Adapter{}

	if cfg.CalDAV.DefaultDestURL != "" {
		caldavClient, err := caldav.NewClient(cfg.CalDAV.DefaultDestURL, cfg.CalDAV.Username, cfg.CalDAV.Password)
		if err != nil {
			log.Fatalf("Failed to initialize CalDAV client: %v", err)
		}
		adapters["caldav"] = provider.NewCalDAVAdapter(caldavClient)
	}

	adapters["google"] = provider.NewGoogleAdapter(cfg.RateLimiting.RPS)
	adapters["ics"] = provider.NewICSAdapter("ics", cfg.CalDAV.DefaultDestURL)
	adapters["kakao"] = provider.NewStubAdapter("kakao", "Kakao Calendar integration is not yet implemented")

	registry := provider.NewRegistry(adapters)

	tracker := activity.NewTracker()
	eng := engine.New(s, encryptor, registry, tracker)
	disp := dispatcher.New(s, encryptor, registry, eng)

	notifyCfg := &notify.Config{
		WebhookEnabled: cfg.Alerts.WebhookEnabled,
		WebhookURL:     cfg.Alerts.WebhookURL,
		EmailEnabled:   cfg.Alerts.EmailEnabled,
		SMTPHost:       cfg.Alerts.SMTPHost,
		SMTPPort:       cfg.Alerts.SMTPPort,
		SMTPUsername:   cfg.Alerts.SMTPUsername,
		SMTPPassword:   cfg.Alerts.SMTPPassword,
		SMTPFrom:       cfg.Alerts.SMTPFrom,
		SMTPTo:         cfg.Alerts.SMTPTo,
		SMTPTLS:        cfg.Alerts.SMTPTLS,
		CooldownPeriod: time.Duration(cfg.Alerts.CooldownMinutes) * time.Minute,
	}
	if notifyCfg.WebhookEnabled || notifyCfg.EmailEnabled {
		if err := notify.ValidateConfig(notifyCfg); err != nil {
			log.Fatalf("Invalid alert configuration: %v", err)
		}
	}
	notifier := notify.New(notifyCfg)
	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (webhook: %v, email: %v, cooldown: %d min)",
			cfg.Alerts.WebhookEnabled, cfg.Alerts.EmailEnabled, cfg.Alerts.CooldownMinutes)
	}

	pollInterval := time.Duration(cfg.Sync.MinInterval) * time.Second
	sched := scheduler.New(s, disp, notifier, pollInterval)

	healthChecker := health.NewChecker(s)

	handlers := web.NewHandlers(cfg, s, oidcProvider, sessionManager, disp, tracker, healthChecker)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	web.SetupRoutes(router, handlers, sessionManager)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
