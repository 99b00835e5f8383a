// Package store implements the Redis-backed session store: one record per
// active device, per-user concurrency limit, sliding idle TTL, and a sweep
// for records the TTL mechanism has not purged yet.
package store

import (
	"errors"
	"time"

	"cloudbalance/backend/internal/config"
	"cloudbalance/backend/internal/session/domain"
)

// ErrNotFound is returned when a session does not exist, is inactive, or has idle-expired.
var ErrNotFound = errors.New("session not found")

// LimitError is returned by Create under the reject policy when the user is
// already at the concurrent-session limit. It carries the live sessions so
// callers can offer "log out device X" or force-login without a second round trip.
type LimitError struct {
	Active []*domain.Session
}

func (e *LimitError) Error() string { return "max concurrent sessions reached" }

// Config holds session store settings.
type Config struct {
	// IdleTimeout is the sliding idle window; it is also the Redis key TTL.
	IdleTimeout time.Duration
	// MaxPerUser is the concurrent-session limit per user (>= 1).
	MaxPerUser int
	// Policy decides whether Create rejects or evicts at the limit.
	Policy config.SessionLimitPolicy
}
