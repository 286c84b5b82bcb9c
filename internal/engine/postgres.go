package engine

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/querygate/pkg/models"
)

// Postgres returns the PostgreSQL engine, backed by pgxpool.
func Postgres() Engine {
	return postgresEngine{}
}

type postgresEngine struct{}

func (postgresEngine) Type() Type { return TypePostgres }

func (postgresEngine) Dialect() Dialect {
	return limitDialect{native: pgLimitClause}
}

func (postgresEngine) Open(ctx context.Context, spec ConnSpec) (Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer",
		url.PathEscape(spec.Username), url.PathEscape(spec.Password),
		spec.Host, spec.Port, spec.Database)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	cfg.MinConns = int32(spec.MinConns)
	cfg.MaxConns = int32(spec.MaxConns)
	if cfg.MinConns <= 0 {
		cfg.MinConns = 1
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 5
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &pgxPool{pool: pool}, nil
}

func (postgresEngine) Introspect(ctx context.Context, conn Conn, database string) ([]models.TableSchema, error) {
	rows, err := conn.Query(ctx,
		`SELECT c.table_name, c.column_name, c.data_type
		 FROM information_schema.columns c
		 JOIN information_schema.tables t
		   ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		 WHERE c.table_schema = 'public' AND t.table_type = 'BASE TABLE'
		 ORDER BY c.table_name, c.ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("querying postgres catalog: %w", err)
	}
	defer rows.Close()
	return groupCatalogRows(rows)
}

// groupCatalogRows folds (table, column, type) rows, already ordered by
// table name, into TableSchema values. Shared by postgres and mysql.
func groupCatalogRows(rows Rows) ([]models.TableSchema, error) {
	var schemas []models.TableSchema
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		table, _ := vals[0].(string)
		column, _ := vals[1].(string)
		dataType, _ := vals[2].(string)
		if len(schemas) == 0 || schemas[len(schemas)-1].TableName != table {
			schemas = append(schemas, models.TableSchema{TableName: table})
		}
		last := &schemas[len(schemas)-1]
		last.Columns = append(last.Columns, models.ColumnSchema{Name: column, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schemas, nil
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: c}, nil
}

func (p *pgxPool) Close() {
	p.pool.Close()
}

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	return &pgxRows{rows: rows, cols: cols}, nil
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Release() {
	c.conn.Release()
}

type pgxRows struct {
	rows pgx.Rows
	cols []string
}

func (r *pgxRows) Columns() []string { return r.cols }

func (r *pgxRows) Next() bool { return r.rows.Next() }

func (r *pgxRows) Values() ([]any, error) { return r.rows.Values() }

func (r *pgxRows) Err() error { return r.rows.Err() }

func (r *pgxRows) Close() { r.rows.Close() }
