package domain

import "time"

// Token is a long-lived opaque credential bound to one (user, device) pair.
// One live row exists per pair; a repeat login reuses the row instead of
// minting a sibling, so a device never accumulates stale refresh tokens.
type Token struct {
	ID                  int64
	UserID              int64
	Value               string // opaque random value presented by the client
	DeviceLabel         string
	IPAddress           string
	TokenVersionAtIssue int
	ExpiresAt           time.Time
	LastActivityAt      time.Time
	Revoked             bool
	CreatedAt           time.Time
}

// Expired reports whether the token is past its absolute expiry as of now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
