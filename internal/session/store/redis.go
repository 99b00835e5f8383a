package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cloudbalance/backend/internal/config"
	"cloudbalance/backend/internal/session/domain"
)

const (
	sessionKeyPrefix = "session:"
	userIndexPrefix  = "user:sessions:"
)

// RedisStore keeps session records as JSON values under the idle timeout as
// key TTL, with a per-user index set for the concurrency limit and mass
// invalidation.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	nowF   func() time.Time
}

// NewRedisStore returns a session store backed by client.
func NewRedisStore(client *redis.Client, cfg Config) *RedisStore {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.MaxPerUser < 1 {
		cfg.MaxPerUser = 1
	}
	return &RedisStore{
		client: client,
		cfg:    cfg,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

func sessionKey(id string) string      { return sessionKeyPrefix + id }
func userIndexKey(userID int64) string { return userIndexPrefix + strconv.FormatInt(userID, 10) }

// Create admits a new session for the user, enforcing the concurrency limit.
// Under the reject policy it returns a *LimitError carrying the live sessions;
// under the evict policy it drops the session with the oldest login time.
// The count-then-create window is a known soft spot: two near-simultaneous
// logins can both pass the check and transiently exceed the limit by one.
// That is accepted; a per-user lock is not worth it here.
func (s *RedisStore) Create(ctx context.Context, userID int64, deviceLabel, ip string) (*domain.Session, error) {
	live, err := s.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(live) >= s.cfg.MaxPerUser {
		if s.cfg.Policy == config.SessionLimitEvict {
			oldest := live[0]
			for _, sess := range live[1:] {
				if sess.LoginTime.Before(oldest.LoginTime) {
					oldest = sess
				}
			}
			if err := s.Invalidate(ctx, oldest.ID, userID); err != nil {
				return nil, err
			}
		} else {
			return nil, &LimitError{Active: live}
		}
	}

	now := s.nowF()
	sess := &domain.Session{
		ID:               uuid.New().String(),
		UserID:           userID,
		DeviceLabel:      deviceLabel,
		IPAddress:        ip,
		LoginTime:        now,
		LastActivityTime: now,
		Active:           true,
	}
	if err := s.write(ctx, sess, s.cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, userIndexKey(userID), sess.ID).Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the raw record for id regardless of liveness, or nil if the key is gone.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetActive returns the session for id if it is live. A record that is present
// but inactive or idle-expired yields ErrNotFound; an idle-expired record is
// additionally marked inactive in place so the sweep finds consistent state.
func (s *RedisStore) GetActive(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Active {
		return nil, ErrNotFound
	}
	if sess.IdleExpired(s.nowF(), s.cfg.IdleTimeout) {
		sess.Active = false
		_ = s.writeKeepTTL(ctx, sess) // self-heal; best effort
		return nil, ErrNotFound
	}
	return sess, nil
}

// ListActiveByUser returns the user's live sessions. Index members whose
// record keys have TTL-expired are pruned as they are discovered.
func (s *RedisStore) ListActiveByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	ids, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	now := s.nowF()
	out := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			_ = s.client.SRem(ctx, userIndexKey(userID), id).Err()
			continue
		}
		if sess.Live(now, s.cfg.IdleTimeout) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Touch bumps the session's last-activity time and resets the sliding TTL.
// Silently a no-op if the session is gone or does not belong to userID; a
// stale client may present an id another flow already destroyed.
func (s *RedisStore) Touch(ctx context.Context, id string, userID int64) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != userID || !sess.Active {
		return nil
	}
	sess.LastActivityTime = s.nowF()
	return s.write(ctx, sess, s.cfg.IdleTimeout)
}

// Invalidate destroys one session. No-op if it is gone or owned by another user.
func (s *RedisStore) Invalidate(ctx context.Context, id string, userID int64) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != userID {
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, userIndexKey(userID), id).Err()
}

// InvalidateAllForUser destroys every session for the user.
func (s *RedisStore) InvalidateAllForUser(ctx context.Context, userID int64) error {
	ids, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, userIndexKey(userID)).Err()
}

// SweepIdle deletes records that are inactive or idle-expired but still
// present because the key TTL has not fired. Safe to run concurrently with
// live traffic: it only deletes rows that are already unusable.
func (s *RedisStore) SweepIdle(ctx context.Context, now time.Time) (int, error) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return deleted, err
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				return deleted, err
			}
			var sess domain.Session
			if err := json.Unmarshal(raw, &sess); err != nil {
				continue
			}
			if sess.Active && !sess.IdleExpired(now, s.cfg.IdleTimeout) {
				continue
			}
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return deleted, err
			}
			_ = s.client.SRem(ctx, userIndexKey(sess.UserID), sess.ID).Err()
			deleted++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

func (s *RedisStore) write(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err()
}

func (s *RedisStore) writeKeepTTL(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(sess.ID), data, redis.KeepTTL).Err()
}
