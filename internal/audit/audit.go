package audit

import (
	"context"
	"log"
	"time"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/xid"
)

// Sink persists or forwards one audit entry.
type Sink interface {
	Write(ctx context.Context, entry domain.AuditLog) error
}

type entryWriter interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// RepositorySink writes entries to the audit_logs table.
type RepositorySink struct {
	repo entryWriter
}

func NewRepositorySink(repo entryWriter) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Write(ctx context.Context, entry domain.AuditLog) error {
	return s.repo.CreateAuditLog(ctx, entry)
}

// Logger records who did what after a workflow finishes. It never fails the
// caller: sink errors are logged and dropped. A nil Logger records nothing.
type Logger struct {
	sinks   []Sink
	timeout time.Duration
}

func NewLogger(sinks ...Sink) *Logger {
	return &Logger{sinks: sinks, timeout: 3 * time.Second}
}

func (l *Logger) Log(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	if l == nil || len(l.sinks) == 0 {
		return
	}
	entry := domain.AuditLog{
		ID:            xid.New("audit"),
		ActorID:       actor.EmployeeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}

	// The request may already be cancelled once the response is decided.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	for _, sink := range l.sinks {
		if err := sink.Write(writeCtx, entry); err != nil {
			log.Printf("[audit] WARN: failed to write audit log (%s %s/%s): %v", action, entityType, entityID, err)
		}
	}
}
