// Package repository persists refresh tokens in Postgres.
package repository

import (
	"context"
	"errors"
	"time"

	"cloudbalance/backend/internal/refreshtoken/domain"
)

var (
	// ErrExpired is returned by Verify for a token past its absolute expiry.
	ErrExpired = errors.New("refresh token expired")
	// ErrRevoked is returned by Verify for a token that was revoked.
	ErrRevoked = errors.New("refresh token revoked")
)

// Repository is the refresh token persistence surface.
type Repository interface {
	// CreateOrReuse returns the live token for (userID, deviceLabel),
	// refreshing its expiry, or creates one if none exists.
	CreateOrReuse(ctx context.Context, userID int64, deviceLabel, ip string, tokenVersion int, ttl time.Duration) (*domain.Token, error)
	// GetByToken returns the row for value, or nil if none exists.
	GetByToken(ctx context.Context, value string) (*domain.Token, error)
	// LatestActiveByUser returns the user's most recently active live token,
	// or nil if the user has none.
	LatestActiveByUser(ctx context.Context, userID int64) (*domain.Token, error)
	// Verify returns the token for value if it is usable. An expired token
	// is deleted and reported as ErrExpired; a revoked one as ErrRevoked;
	// an unknown value as (nil, nil).
	Verify(ctx context.Context, value string, now time.Time) (*domain.Token, error)
	// Touch records activity on the token.
	Touch(ctx context.Context, value string, at time.Time) error
	// RevokeAllForUser revokes every live token of the user.
	RevokeAllForUser(ctx context.Context, userID int64) error
	// RevokeForDevice revokes the user's live token for one device.
	RevokeForDevice(ctx context.Context, userID int64, deviceLabel string) error
	// DeleteExpired removes rows past their expiry and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
