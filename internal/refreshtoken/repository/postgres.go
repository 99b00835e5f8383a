package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cloudbalance/backend/internal/refreshtoken/domain"
	"cloudbalance/backend/internal/security"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `id, user_id, token, device_label, ip_address, token_version, expires_at, last_activity_at, revoked, created_at`

// CreateOrReuse hands back the live token for (userID, deviceLabel) with a
// refreshed expiry, or mints a new one. The token value is kept stable on
// reuse so a client that logs in again does not invalidate the copy it
// already holds.
func (r *PostgresRepository) CreateOrReuse(ctx context.Context, userID int64, deviceLabel, ip string, tokenVersion int, ttl time.Duration) (*domain.Token, error) {
	now := time.Now().UTC()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens
		 WHERE user_id = $1 AND device_label = $2 AND NOT revoked`,
		userID, deviceLabel)
	existing, err := scanToken(row)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Expired(now) {
		existing.ExpiresAt = now.Add(ttl)
		existing.LastActivityAt = now
		existing.TokenVersionAtIssue = tokenVersion
		existing.IPAddress = ip
		_, err := r.db.ExecContext(ctx,
			`UPDATE refresh_tokens
			 SET expires_at = $2, last_activity_at = $3, token_version = $4, ip_address = $5
			 WHERE id = $1`,
			existing.ID, existing.ExpiresAt, existing.LastActivityAt, existing.TokenVersionAtIssue, existing.IPAddress)
		if err != nil {
			return nil, err
		}
		return existing, nil
	}
	if existing != nil {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, existing.ID); err != nil {
			return nil, err
		}
	}

	t := &domain.Token{
		UserID:              userID,
		Value:               security.NewRefreshTokenValue(),
		DeviceLabel:         deviceLabel,
		IPAddress:           ip,
		TokenVersionAtIssue: tokenVersion,
		ExpiresAt:           now.Add(ttl),
		LastActivityAt:      now,
		CreatedAt:           now,
	}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token, device_label, ip_address, token_version, expires_at, last_activity_at, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
		 RETURNING id`,
		t.UserID, t.Value, t.DeviceLabel, t.IPAddress, t.TokenVersionAtIssue, t.ExpiresAt, t.LastActivityAt, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByToken returns the row for value, or nil if none exists.
func (r *PostgresRepository) GetByToken(ctx context.Context, value string) (*domain.Token, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1`, value)
	return scanToken(row)
}

// LatestActiveByUser returns the user's most recently active live token, or nil.
func (r *PostgresRepository) LatestActiveByUser(ctx context.Context, userID int64) (*domain.Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens
		 WHERE user_id = $1 AND NOT revoked AND expires_at > $2
		 ORDER BY last_activity_at DESC
		 LIMIT 1`,
		userID, time.Now().UTC())
	return scanToken(row)
}

// Verify checks value for use. Expired rows are deleted on sight so the
// table does not hold credentials that can never succeed again.
func (r *PostgresRepository) Verify(ctx context.Context, value string, now time.Time) (*domain.Token, error) {
	t, err := r.GetByToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	if t.Expired(now) {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, t.ID); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}
	if t.Revoked {
		return nil, ErrRevoked
	}
	return t, nil
}

// Touch records activity on the token.
func (r *PostgresRepository) Touch(ctx context.Context, value string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET last_activity_at = $2 WHERE token = $1`, value, at)
	return err
}

// RevokeAllForUser revokes every live token of the user.
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND NOT revoked`, userID)
	return err
}

// RevokeForDevice revokes the user's live token for one device.
func (r *PostgresRepository) RevokeForDevice(ctx context.Context, userID int64, deviceLabel string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND device_label = $2 AND NOT revoked`,
		userID, deviceLabel)
	return err
}

// DeleteExpired removes rows past their expiry and returns how many went.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanToken(row *sql.Row) (*domain.Token, error) {
	var t domain.Token
	err := row.Scan(&t.ID, &t.UserID, &t.Value, &t.DeviceLabel, &t.IPAddress,
		&t.TokenVersionAtIssue, &t.ExpiresAt, &t.LastActivityAt, &t.Revoked, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
