package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cloudbalance/backend/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, first_name, last_name, password_hash, role, token_version, active, last_login, created_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user for email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user and fills in its generated ID.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, first_name, last_name, password_hash, role, token_version, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		u.Email, u.FirstName, u.LastName, u.PasswordHash, u.Role, u.TokenVersion, u.Active, u.CreatedAt,
	).Scan(&u.ID)
}

// UpdateLastLogin records a successful login time.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return err
}

// SetTokenVersion persists the user's current token version.
func (r *PostgresRepository) SetTokenVersion(ctx context.Context, id int64, version int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET token_version = $2 WHERE id = $1`, id, version)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.Role, &u.TokenVersion, &u.Active, &lastLogin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}
