package auth

import (
	"context"
	"log"
	"time"
)

// SessionSweeper removes idle-expired session records the TTL has not purged.
type SessionSweeper interface {
	SweepIdle(ctx context.Context, now time.Time) (int, error)
}

// RefreshTokenSweeper removes refresh token rows past their expiry.
type RefreshTokenSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically clears expired sessions and refresh tokens.
type Sweeper struct {
	sessions SessionSweeper
	refresh  RefreshTokenSweeper
	interval time.Duration
}

// NewSweeper returns a Sweeper running every interval.
func NewSweeper(sessions SessionSweeper, refresh RefreshTokenSweeper, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Sweeper{sessions: sessions, refresh: refresh, interval: interval}
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass. Errors are logged, not returned; the
// next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	sessions, err := s.sessions.SweepIdle(ctx, now)
	if err != nil {
		log.Printf("sweeper: session sweep failed: %v", err)
	}
	tokens, err := s.refresh.DeleteExpired(ctx, now)
	if err != nil {
		log.Printf("sweeper: refresh token sweep failed: %v", err)
	}
	if sessions > 0 || tokens > 0 {
		log.Printf("sweeper: removed %d idle sessions, %d expired refresh tokens", sessions, tokens)
	}
}
