// Package audit records one entry per query execution attempt, including
// attempts the gatekeeper blocked.
package audit

import (
	"context"
	"time"

	"github.com/org/querygate/internal/storage"
	"github.com/org/querygate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Logger writes structured audit entries.
type Logger struct {
	store storage.Store
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Store) *Logger {
	return &Logger{store: store}
}

// Record persists one execution attempt. Fire and forget: audit write
// failures are logged but never break the request flow.
func (l *Logger) Record(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("user_id", entry.UserID).Msg("audit write failed")
	}
}

// Query retrieves paginated audit log entries.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, filter)
}
