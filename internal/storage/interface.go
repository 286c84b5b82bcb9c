package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/querygate/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrAdminPermission is returned by UpsertPermission when an update would
// clear an ADMIN allowed flag. ADMIN permissions cannot be revoked through
// configuration.
var ErrAdminPermission = errors.New("cannot revoke an ADMIN permission")

// Store defines the metadata persistence interface for QueryGate. It covers
// the role permission table, the registered database connections, per-user
// grants and the execution audit log. Target databases are never reached
// through this interface; that is the pool manager's job.
type Store interface {
	// Role permissions
	GetPermission(ctx context.Context, role models.Role, op models.Operation) (*models.RolePermission, error)
	ListPermissions(ctx context.Context, role models.Role) ([]models.RolePermission, error)
	UpsertPermission(ctx context.Context, perm models.RolePermission) error

	// Database connections
	CreateConnection(ctx context.Context, conn *models.DBConnection) error
	GetConnection(ctx context.Context, id int64) (*models.DBConnection, error)
	ListConnections(ctx context.Context, activeOnly bool) ([]*models.DBConnection, error)
	UpdateConnection(ctx context.Context, conn *models.DBConnection) error
	DeleteConnection(ctx context.Context, id int64) error

	// Grants
	CreateGrant(ctx context.Context, userID string, connectionID int64) error
	DeleteGrant(ctx context.Context, userID string, connectionID int64) error
	ListGrants(ctx context.Context, userID string) ([]int64, error)
	ListGrantedUsers(ctx context.Context, connectionID int64) ([]string, error)
	HasGrant(ctx context.Context, userID string, connectionID int64) (bool, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	UserID       string
	ConnectionID int64
	Status       string
	Since        *time.Time
	Limit        int
	Offset       int
}
