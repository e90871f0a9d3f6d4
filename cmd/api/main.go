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

	"scholarbridge.org/internal/auth"
	"scholarbridge.org/internal/config"
	"scholarbridge.org/internal/httpapi"
	"scholarbridge.org/internal/notify"
	"scholarbridge.org/internal/obs"
	"scholarbridge.org/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	tokens, err := auth.NewTokenManager([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	dispatcher := notify.NewDispatcher(notify.LogSender{}, cfg.OTPDispatchTimeout)

	svc, err := auth.NewService(auth.NewPGStore(db), tokens, dispatcher, auth.Config{
		RefreshTTL:           cfg.RefreshTTL,
		LockoutThreshold:     cfg.LockoutThreshold,
		LockoutDuration:      cfg.LockoutDuration,
		OTPTTL:               cfg.OTPTTL,
		OTPMaxAttempts:       cfg.OTPMaxAttempts,
		OTPDigits:            cfg.OTPDigits,
		SingleDeviceSessions: cfg.SingleDeviceSessions,
	})
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	resolver := tenant.NewResolver(tenant.NewPGStore(db), cfg.BaseDomain)

	api := httpapi.New(svc, resolver, httpapi.ReadyProbe{DB: db}, httpapi.Limits{
		MaxBodyBytes:       cfg.MaxBodyBytes,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, version)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting scholarbridge-auth %s on %s", version, srv.Addr)

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
	dispatcher.Close()
	_ = db.Close()
	log.Println("Stopped")
}
