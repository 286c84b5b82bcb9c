// Package policy answers "may this role run this operation" from the
// role_permissions table, with the two rules that must never be
// configuration-driven hardcoded here: DDL is ADMIN-only and UNKNOWN is
// always denied.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/querygate/internal/storage"
	"github.com/org/querygate/pkg/models"
)

// PermissionGetter is the minimal interface the Store needs from storage.
type PermissionGetter interface {
	GetPermission(ctx context.Context, role models.Role, op models.Operation) (*models.RolePermission, error)
	ListPermissions(ctx context.Context, role models.Role) ([]models.RolePermission, error)
}

// Store resolves role/operation permissions.
type Store struct {
	perms PermissionGetter
}

// NewStore creates a policy Store backed by the given permission source.
func NewStore(perms PermissionGetter) *Store {
	return &Store{perms: perms}
}

// IsAllowed reports whether role may run op, and the row cap to enforce when
// it may. Absent table rows deny (fail closed).
func (s *Store) IsAllowed(ctx context.Context, role models.Role, op models.Operation) (bool, int, error) {
	switch op {
	case models.OpUnknown:
		return false, 0, nil
	case models.OpDDL:
		// DDL returns no rows, so no cap applies.
		return role == models.RoleAdmin, 0, nil
	}

	perm, err := s.perms.GetPermission(ctx, role, op)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("loading permission for %s/%s: %w", role, op, err)
	}
	if !perm.Allowed {
		return false, 0, nil
	}
	return true, perm.MaxRows, nil
}

// RoleSummary is the aggregate view of one role's permissions, for display.
// MaxRows is the maximum over all allowed operations, not the per-operation
// enforcement cap.
type RoleSummary struct {
	Role       models.Role        `json:"role"`
	Operations []models.Operation `json:"allowed_operations"`
	MaxRows    int                `json:"max_rows"`
}

// PermissionsFor aggregates all of one role's allowed operations.
func (s *Store) PermissionsFor(ctx context.Context, role models.Role) (*RoleSummary, error) {
	perms, err := s.perms.ListPermissions(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("listing permissions for %s: %w", role, err)
	}
	summary := &RoleSummary{Role: role, Operations: []models.Operation{}}
	for _, p := range perms {
		if !p.Allowed {
			continue
		}
		summary.Operations = append(summary.Operations, p.Operation)
		if p.MaxRows > summary.MaxRows {
			summary.MaxRows = p.MaxRows
		}
	}
	if role == models.RoleAdmin {
		summary.Operations = append(summary.Operations, models.OpDDL)
	}
	return summary, nil
}
