package engine

import (
	"context"
	"database/sql"
	"time"
)

// sqlPool adapts a database/sql DB to the Pool interface. MySQL and SQLite
// share it; PostgreSQL uses pgxpool natively.
type sqlPool struct {
	db *sql.DB
}

func newSQLPool(db *sql.DB, spec ConnSpec) *sqlPool {
	minConns, maxConns := spec.MinConns, spec.MaxConns
	if minConns <= 0 {
		minConns = 1
	}
	if maxConns <= 0 {
		maxConns = 5
	}
	db.SetMaxIdleConns(minConns)
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &sqlPool{db: db}
}

func (p *sqlPool) Acquire(ctx context.Context) (Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		if err == sql.ErrConnDone {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	return &sqlConn{conn: c}, nil
}

func (p *sqlPool) Close() {
	p.db.Close() //nolint:errcheck
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close() //nolint:errcheck
		return nil, err
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some statements (DDL) report no affected-row count.
		return 0, nil
	}
	return n, nil
}

func (c *sqlConn) Release() {
	c.conn.Close() //nolint:errcheck
}

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func (r *sqlRows) Columns() []string { return r.cols }

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Values() ([]any, error) {
	raw := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	// Drivers hand back []byte for text-ish columns; normalize to string so
	// results serialize the same across engines.
	for i, v := range raw {
		if b, ok := v.([]byte); ok {
			raw[i] = string(b)
		}
	}
	return raw, nil
}

func (r *sqlRows) Err() error { return r.rows.Err() }

func (r *sqlRows) Close() { r.rows.Close() } //nolint:errcheck
