package models

import "time"

// Execution attempt statuses recorded in the audit log.
const (
	AuditSuccess = "SUCCESS"
	AuditFailed  = "FAILED"
	AuditBlocked = "BLOCKED"
)

// AuditEntry records one query execution attempt, whether it was blocked by
// policy, failed at the backend, or succeeded.
type AuditEntry struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ConnectionID int64     `json:"connection_id"`
	SQLText      string    `json:"sql_text"`
	Status       string    `json:"status"` // SUCCESS | FAILED | BLOCKED
	ErrorMessage string    `json:"error_message,omitempty"`
	ExecutionMs  int64     `json:"execution_ms"`
	RowCount     int       `json:"row_count"`
	Timestamp    time.Time `json:"timestamp"`
}
