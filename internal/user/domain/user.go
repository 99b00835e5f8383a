package domain

import "time"

// Roles assignable to a user. A user holds exactly one role.
const (
	RoleAdmin    = "ADMIN"
	RoleReadOnly = "READ_ONLY"
	RoleCustomer = "CUSTOMER"
)

// User is the account record the auth core authenticates against.
// TokenVersion is a monotonic counter; bumping it invalidates every access
// token issued with an older version regardless of expiry.
type User struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string
	TokenVersion int
	Active       bool
	LastLogin    *time.Time // nil when the user has never logged in
	CreatedAt    time.Time
}

// FullName returns the display name used in auth responses.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
