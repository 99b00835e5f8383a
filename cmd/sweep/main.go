// sweep runs one cleanup pass over idle sessions and expired refresh tokens,
// then exits. The server runs the same sweep on a timer; this binary exists
// for cron-style operation and for clearing a backlog by hand.
package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"cloudbalance/backend/internal/auth"
	"cloudbalance/backend/internal/config"
	"cloudbalance/backend/internal/db"
	refreshrepo "cloudbalance/backend/internal/refreshtoken/repository"
	"cloudbalance/backend/internal/session/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	sessions := store.NewRedisStore(rdb, store.Config{
		IdleTimeout: cfg.IdleTimeout(),
		MaxPerUser:  cfg.SessionMaxPerUser,
		Policy:      cfg.LimitPolicy(),
	})
	refreshTokens := refreshrepo.NewPostgresRepository(conn)

	auth.NewSweeper(sessions, refreshTokens, cfg.SweepEvery()).SweepOnce(ctx)
}
