package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"cloudbalance/backend/internal/audit"
	auditrepo "cloudbalance/backend/internal/audit/repository"
	"cloudbalance/backend/internal/auth"
	"cloudbalance/backend/internal/config"
	"cloudbalance/backend/internal/db"
	refreshrepo "cloudbalance/backend/internal/refreshtoken/repository"
	"cloudbalance/backend/internal/revocation"
	"cloudbalance/backend/internal/security"
	"cloudbalance/backend/internal/session/store"
	httpapi "cloudbalance/backend/internal/transport/http"
	userrepo "cloudbalance/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("redis: %v", err)
	}
	pingCancel()

	tokens := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	hasher := security.NewHasher(cfg.BcryptCost)

	sessions := store.NewRedisStore(rdb, store.Config{
		IdleTimeout: cfg.IdleTimeout(),
		MaxPerUser:  cfg.SessionMaxPerUser,
		Policy:      cfg.LimitPolicy(),
	})
	revocationStore := revocation.NewStore(rdb)
	users := userrepo.NewPostgresRepository(conn)
	refreshTokens := refreshrepo.NewPostgresRepository(conn)
	audits := auditrepo.NewPostgresRepository(conn)
	auditLogger := audit.NewLogger(audits)

	svc := auth.NewService(users, sessions, refreshTokens, revocationStore,
		hasher, tokens, cfg.RefreshTTL(), auditLogger)

	cookies := httpapi.CookieWriter{
		Secure:     cfg.SecureCookies(),
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	}
	gate := httpapi.NewGate(tokens, sessions, refreshTokens, revocationStore, cookies)
	handler := httpapi.NewAuthHandler(svc, tokens, cookies, audits)
	router := httpapi.NewRouter(gate, handler)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go auth.NewSweeper(sessions, refreshTokens, cfg.SweepEvery()).Run(sweepCtx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
