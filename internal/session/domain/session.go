package domain

import "time"

// Session represents one authenticated device/browser instance.
// It lives in Redis under the idle timeout as key TTL; LastActivityTime is
// the authoritative idle clock even when the TTL sweep has not fired yet.
type Session struct {
	ID               string    `json:"id"` // opaque, unguessable, never reused
	UserID           int64     `json:"user_id"`
	DeviceLabel      string    `json:"device_label"` // from User-Agent, informational only
	IPAddress        string    `json:"ip_address"`
	LoginTime        time.Time `json:"login_time"`
	LastActivityTime time.Time `json:"last_activity_time"`
	Active           bool      `json:"active"`
}

// IdleExpired reports whether the session has been idle longer than timeout as of now.
func (s *Session) IdleExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivityTime) >= timeout
}

// Live reports whether the session is usable: active and not idle-expired.
func (s *Session) Live(now time.Time, timeout time.Duration) bool {
	return s.Active && !s.IdleExpired(now, timeout)
}
