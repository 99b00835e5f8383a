package domain

import "time"

// Actions recorded by the auth flows.
const (
	ActionLogin        = "login"
	ActionLoginFailure = "login_failure"
	ActionForceLogin   = "force_login"
	ActionRefresh      = "refresh"
	ActionLogout       = "logout"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    int64 // 0 when the event has no resolved user (e.g. login_failure)
	Action    string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
