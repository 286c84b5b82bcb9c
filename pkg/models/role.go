package models

import "fmt"

// Role is a user's privilege level. The set is closed and totally ordered:
// ADMIN > DEVELOPER > ANALYST.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDeveloper Role = "DEVELOPER"
	RoleAnalyst   Role = "ANALYST"
)

// Roles lists all roles in descending privilege order.
var Roles = []Role{RoleAdmin, RoleDeveloper, RoleAnalyst}

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleDeveloper, RoleAnalyst:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// rank maps each role to its privilege level for comparisons.
func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleDeveloper:
		return 2
	case RoleAnalyst:
		return 1
	}
	return 0
}

// AtLeast reports whether r has privilege greater than or equal to other.
func (r Role) AtLeast(other Role) bool {
	return r.rank() >= other.rank()
}

// Operation is the normalized category of a SQL statement used for policy
// lookup. JOIN and CTE are modifiers detected independently of the primary
// statement kind; UNKNOWN is the fallback and is always denied.
type Operation string

const (
	OpSelect  Operation = "SELECT"
	OpInsert  Operation = "INSERT"
	OpUpdate  Operation = "UPDATE"
	OpDelete  Operation = "DELETE"
	OpJoin    Operation = "JOIN"
	OpCTE     Operation = "CTE"
	OpDDL     Operation = "DDL"
	OpUnknown Operation = "UNKNOWN"
)

// ConfigurableOperations are the operations whose permissions live in the
// role_permissions table. DDL and UNKNOWN are hardcoded in the policy layer
// and must never be stored or overridden.
var ConfigurableOperations = []Operation{OpSelect, OpInsert, OpUpdate, OpDelete, OpJoin, OpCTE}

// ParseOperation validates an operation string against the configurable set.
func ParseOperation(s string) (Operation, error) {
	for _, op := range ConfigurableOperations {
		if Operation(s) == op {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown or non-configurable operation %q", s)
}
