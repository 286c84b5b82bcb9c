package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/org/querygate/internal/engine"
	"github.com/org/querygate/internal/pool"
	"github.com/org/querygate/internal/storage"
	"github.com/org/querygate/pkg/models"
)

// stubEngine serves canned rows and records releases so the tests can assert
// connections always go back to the pool.
type stubEngine struct {
	columns  []string
	rows     [][]any
	queryErr error
	execErr  error
	affected int64
	schemas  []models.TableSchema

	releases atomic.Int32
}

func (s *stubEngine) Type() engine.Type       { return engine.TypePostgres }
func (s *stubEngine) Dialect() engine.Dialect { return nil }

func (s *stubEngine) Open(context.Context, engine.ConnSpec) (engine.Pool, error) {
	return &stubPool{eng: s}, nil
}

func (s *stubEngine) Introspect(context.Context, engine.Conn, string) ([]models.TableSchema, error) {
	return s.schemas, nil
}

type stubPool struct{ eng *stubEngine }

func (p *stubPool) Acquire(context.Context) (engine.Conn, error) {
	return &stubConn{eng: p.eng}, nil
}
func (p *stubPool) Close() {}

type stubConn struct{ eng *stubEngine }

func (c *stubConn) Query(context.Context, string, ...any) (engine.Rows, error) {
	if c.eng.queryErr != nil {
		return nil, c.eng.queryErr
	}
	return &stubRows{columns: c.eng.columns, rows: c.eng.rows, pos: -1}, nil
}

func (c *stubConn) Exec(context.Context, string, ...any) (int64, error) {
	if c.eng.execErr != nil {
		return 0, c.eng.execErr
	}
	return c.eng.affected, nil
}

func (c *stubConn) Release() { c.eng.releases.Add(1) }

type stubRows struct {
	columns []string
	rows    [][]any
	pos     int
}

func (r *stubRows) Columns() []string { return r.columns }

func (r *stubRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *stubRows) Values() ([]any, error) { return r.rows[r.pos], nil }
func (r *stubRows) Err() error             { return nil }
func (r *stubRows) Close()                 {}

type stubConfigs struct{}

func (stubConfigs) GetConnection(_ context.Context, id int64) (*models.DBConnection, error) {
	if id != 1 {
		return nil, storage.ErrNotFound
	}
	return &models.DBConnection{
		ID:           1,
		Name:         "orders",
		DBType:       "postgres",
		Host:         "db.internal",
		Port:         5432,
		DatabaseName: "orders",
		Username:     "app",
		Active:       true,
	}, nil
}

type noopOpener struct{}

func (noopOpener) Open(ciphertext, _ []byte) ([]byte, error) { return ciphertext, nil }

func newTestPools(eng *stubEngine) *pool.Manager {
	return pool.NewManager(stubConfigs{}, noopOpener{}, engine.NewRegistry(eng))
}

func TestExecuteSelect(t *testing.T) {
	eng := &stubEngine{
		columns: []string{"id", "name"},
		rows: [][]any{
			{int64(1), "alice"},
			{int64(2), "bob"},
		},
	}
	pools := newTestPools(eng)
	defer pools.ShutdownAll()

	result, err := NewExecutor(pools).Execute(context.Background(), 1, "SELECT id, name FROM users", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", result.RowCount)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "id" {
		t.Errorf("Columns = %v", result.Columns)
	}
	if got := result.Rows[0]["name"]; got != "alice" {
		t.Errorf("Rows[0][name] = %v, want alice", got)
	}
	if result.ExecutionMs < 0 {
		t.Errorf("ExecutionMs = %d", result.ExecutionMs)
	}
	if eng.releases.Load() != 1 {
		t.Errorf("releases = %d, want 1", eng.releases.Load())
	}
}

func TestExecuteTruncatesAtMaxRows(t *testing.T) {
	rows := make([][]any, 10)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	eng := &stubEngine{columns: []string{"n"}, rows: rows}
	pools := newTestPools(eng)
	defer pools.ShutdownAll()

	result, err := NewExecutor(pools).Execute(context.Background(), 1, "SELECT n FROM seq", 3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", result.RowCount)
	}
	if len(result.Rows) != 3 {
		t.Errorf("len(Rows) = %d, want 3", len(result.Rows))
	}
}

func TestExecuteDMLReportsAffectedRows(t *testing.T) {
	eng := &stubEngine{affected: 7}
	pools := newTestPools(eng)
	defer pools.ShutdownAll()

	result, err := NewExecutor(pools).Execute(context.Background(), 1, "UPDATE users SET active = true", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RowCount != 7 {
		t.Errorf("RowCount = %d, want 7", result.RowCount)
	}
	if len(result.Rows) != 0 {
		t.Errorf("DML result carried %d rows", len(result.Rows))
	}
}

func TestExecuteCTEGoesThroughQueryPath(t *testing.T) {
	eng := &stubEngine{columns: []string{"total"}, rows: [][]any{{int64(42)}}}
	pools := newTestPools(eng)
	defer pools.ShutdownAll()

	result, err := NewExecutor(pools).Execute(context.Background(), 1,
		"WITH t AS (SELECT count(*) AS total FROM orders) SELECT total FROM t", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RowCount != 1 || result.Rows[0]["total"] != int64(42) {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestExecuteBackendErrorReleasesConnection(t *testing.T) {
	eng := &stubEngine{queryErr: errors.New(`relation "users" does not exist`)}
	pools := newTestPools(eng)
	defer pools.ShutdownAll()

	_, err := NewExecutor(pools).Execute(context.Background(), 1, "SELECT * FROM users", 0)
	if err == nil {
		t.Fatal("expected backend error")
	}
	if eng.releases.Load() != 1 {
		t.Errorf("releases = %d, want 1", eng.releases.Load())
	}
}

func TestExecuteUnknownConnection(t *testing.T) {
	pools := newTestPools(&stubEngine{})
	defer pools.ShutdownAll()

	_, err := NewExecutor(pools).Execute(context.Background(), 99, "SELECT 1", 0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetSchema(t *testing.T) {
	eng := &stubEngine{schemas: []models.TableSchema{
		{TableName: "orders", Columns: []models.ColumnSchema{{Name: "id", Type: "bigint"}}},
	}}
	pools := newTestPools(eng)
	defer pools.ShutdownAll()

	schemas, err := NewIntrospector(pools).GetSchema(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if len(schemas) != 1 || schemas[0].TableName != "orders" {
		t.Errorf("schemas = %+v", schemas)
	}
	if eng.releases.Load() != 1 {
		t.Errorf("releases = %d, want 1", eng.releases.Load())
	}
}

func TestGetSchemaEmptyDatabase(t *testing.T) {
	pools := newTestPools(&stubEngine{})
	defer pools.ShutdownAll()

	schemas, err := NewIntrospector(pools).GetSchema(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if schemas == nil {
		t.Error("schemas should be an empty slice, not nil")
	}
}
