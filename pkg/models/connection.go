package models

import "time"

// DBConnection identifies a target database the system may query on behalf
// of users. The credential is stored encrypted; only the pool manager ever
// sees the plaintext, immediately before opening a pool.
type DBConnection struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	DBType          string    `json:"db_type"` // "postgres", "mysql", "sqlite"
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	DatabaseName    string    `json:"database_name"`
	Username        string    `json:"username"`
	CredentialEnc   []byte    `json:"-"`
	CredentialNonce []byte    `json:"-"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Grant authorizes one user to target one database connection. ADMIN users
// bypass the grant table entirely.
type Grant struct {
	UserID       string    `json:"user_id"`
	ConnectionID int64     `json:"connection_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RolePermission is one row of the role/operation policy table.
type RolePermission struct {
	Role      Role      `json:"role"`
	Operation Operation `json:"operation"`
	Allowed   bool      `json:"allowed"`
	MaxRows   int       `json:"max_rows"`
}
