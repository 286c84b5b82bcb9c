// Package engine defines the per-database-engine capability used by the pool
// manager, the executor and the introspector. Each supported engine supplies
// pool construction, query plumbing, the row-limiting dialect idiom and
// catalog introspection behind one interface; everything above this package
// is engine-agnostic and routes by the typed EngineType tag.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/querygate/pkg/models"
)

// Type identifies a supported database engine.
type Type string

const (
	TypePostgres Type = "postgres"
	TypeMySQL    Type = "mysql"
	TypeSQLite   Type = "sqlite"
)

// ParseType validates an engine type tag from a stored connection config.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypePostgres, TypeMySQL, TypeSQLite:
		return Type(s), nil
	}
	return "", fmt.Errorf("unsupported engine type %q", s)
}

// ErrPoolClosed is returned by Acquire after a pool has been closed.
var ErrPoolClosed = errors.New("pool is closed")

// ConnSpec carries the decrypted settings needed to open a pool. Password is
// plaintext here; it must never be logged or persisted.
type ConnSpec struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Pool bounds. Zero values fall back to the engine defaults (1/5).
	MinConns int
	MaxConns int
}

// Rows is a minimal cursor over a query result, normalized across engines.
type Rows interface {
	// Columns returns the result column names in select order.
	Columns() []string
	// Next advances to the next row, returning false at the end or on error.
	Next() bool
	// Values returns the current row's values, one per column.
	Values() ([]any, error)
	// Err returns the error, if any, that terminated iteration.
	Err() error
	Close()
}

// Conn is one borrowed connection. Release returns it to its pool and must
// be called exactly once.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	// Exec runs a statement that returns no rows and reports rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Release()
}

// Pool is a bounded set of live connections to one target database.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Close()
}

// Dialect is the engine-specific SQL surface the gatekeeper needs for
// defensive row-limit injection.
type Dialect interface {
	// HasLimit reports whether the statement already carries a native
	// row-limiting clause.
	HasLimit(sql string) bool
	// LimitWrap rewrites a SELECT so it returns at most maxRows rows.
	LimitWrap(sql string, maxRows int) string
}

// Engine is the capability implemented once per supported database engine.
type Engine interface {
	Type() Type
	// Open constructs a new bounded pool. A non-nil error means nothing was
	// opened and nothing needs closing.
	Open(ctx context.Context, spec ConnSpec) (Pool, error)
	Dialect() Dialect
	// Introspect enumerates tables and columns via the engine's native
	// catalog, sorted by table name.
	Introspect(ctx context.Context, conn Conn, database string) ([]models.TableSchema, error)
}

// Registry maps engine type tags to implementations. Absence of a registered
// implementation is a configuration error surfaced by the pool manager, not
// a crash.
type Registry struct {
	engines map[Type]Engine
}

// NewRegistry builds a registry from the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[Type]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Type()] = e
	}
	return r
}

// Register adds or replaces an engine.
func (r *Registry) Register(e Engine) {
	r.engines[e.Type()] = e
}

// Lookup returns the engine for a type tag.
func (r *Registry) Lookup(t Type) (Engine, bool) {
	e, ok := r.engines[t]
	return e, ok
}
