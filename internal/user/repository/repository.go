package repository

import (
	"context"
	"time"

	"cloudbalance/backend/internal/user/domain"
)

// Repository is the user persistence surface the auth core depends on.
// The full account CRUD layer lives elsewhere; this is only the lookup and
// bookkeeping the session engine needs.
type Repository interface {
	// GetByID returns the user for id, or nil if not found.
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	// GetByEmail returns the user for email, or nil if not found.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create persists a new user and sets its generated ID.
	Create(ctx context.Context, u *domain.User) error
	// UpdateLastLogin records a successful login time.
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	// SetTokenVersion persists the user's current token version so the
	// counter survives a Redis flush.
	SetTokenVersion(ctx context.Context, id int64, version int) error
}
