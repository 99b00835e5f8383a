// Package audit persists security-relevant events alongside the auth flows.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"cloudbalance/backend/internal/audit/domain"
	auditrepo "cloudbalance/backend/internal/audit/repository"
)

// AuditLogger writes a single audit event. Used by the auth and session code paths.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID int64, action, ip, metadata string)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns an AuditLogger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID int64, action, ip, metadata string) {
	if l.repo == nil {
		return
	}
	if ip == "" {
		ip = "unknown"
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s: %v", action, err)
	}
}

// Nop is an AuditLogger that discards everything. Handy in tests.
type Nop struct{}

func (Nop) LogEvent(context.Context, int64, string, string, string) {}
