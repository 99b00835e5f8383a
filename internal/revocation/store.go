// Package revocation tracks which access tokens are dead before their
// expiry and the per-user token version counter used to cut off whole
// token generations at once.
package revocation

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blacklistKeyPrefix = "blacklist:token:"
	versionKeyPrefix   = "user:token:version:"
)

// Store is backed by Redis. Blacklist entries carry the token's remaining
// lifetime as key TTL so they vanish exactly when the token itself would
// stop verifying anyway.
type Store struct {
	client *redis.Client
}

// NewStore returns a revocation store backed by client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func blacklistKey(token string) string { return blacklistKeyPrefix + token }
func versionKey(userID int64) string   { return versionKeyPrefix + strconv.FormatInt(userID, 10) }

// Blacklist marks the token as revoked for its remaining lifetime.
// A token at or past expiry needs no entry; it already fails verification.
func (s *Store) Blacklist(ctx context.Context, token string, remaining time.Duration) error {
	if remaining <= 0 {
		return nil
	}
	return s.client.Set(ctx, blacklistKey(token), "revoked", remaining).Err()
}

// IsBlacklisted reports whether the token has been explicitly revoked.
func (s *Store) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CurrentVersion returns the user's token version, or 0 when the counter
// has never been initialized.
func (s *Store) CurrentVersion(ctx context.Context, userID int64) (int, error) {
	v, err := s.client.Get(ctx, versionKey(userID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// InitVersion seeds the counter from the persisted value, but only if no
// counter exists yet. A live counter may already be ahead of the database.
func (s *Store) InitVersion(ctx context.Context, userID int64, version int) error {
	return s.client.SetNX(ctx, versionKey(userID), version, 0).Err()
}

// SetVersion overwrites the counter unconditionally.
func (s *Store) SetVersion(ctx context.Context, userID int64, version int) error {
	return s.client.Set(ctx, versionKey(userID), version, 0).Err()
}

// IncrementVersion bumps the counter and returns the new value. Every
// access token minted before the bump becomes rejectable at the gate.
func (s *Store) IncrementVersion(ctx context.Context, userID int64) (int, error) {
	v, err := s.client.Incr(ctx, versionKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
