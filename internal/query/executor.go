// Package query runs validated SQL against target databases and normalizes
// the heterogeneous result shapes. It only ever sees SQL that has already
// passed the gatekeeper; its own maxRows truncation is deliberate redundancy
// on top of the SQL-level limit.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/org/querygate/internal/pool"
	"github.com/org/querygate/pkg/models"
)

// LeaseSource is the minimal interface the executor and introspector need
// from the pool manager.
type LeaseSource interface {
	Acquire(ctx context.Context, connectionID int64) (*pool.Lease, error)
}

// Executor runs SQL on pooled connections.
type Executor struct {
	pools LeaseSource
}

// NewExecutor creates an Executor borrowing connections from the given
// source.
func NewExecutor(pools LeaseSource) *Executor {
	return &Executor{pools: pools}
}

// Execute runs one statement and returns the normalized result. maxRows > 0
// truncates the returned row set at the consumption layer even if the
// SQL-level limit was bypassed. Timing is wall-clock from just before the
// connection acquire to completion. Backend errors are returned with their
// native message; nothing is retried.
func (e *Executor) Execute(ctx context.Context, connectionID int64, sql string, maxRows int) (*models.QueryResult, error) {
	start := time.Now()

	lease, err := e.pools.Acquire(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	if !returnsRows(sql) {
		affected, err := lease.Conn().Exec(ctx, sql)
		if err != nil {
			return nil, fmt.Errorf("executing statement: %w", err)
		}
		return &models.QueryResult{
			Columns:     []string{},
			Rows:        []map[string]any{},
			RowCount:    int(affected),
			ExecutionMs: time.Since(start).Milliseconds(),
		}, nil
	}

	rows, err := lease.Conn().Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols := rows.Columns()
	result := &models.QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = vals[i]
		}
		result.Rows = append(result.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionMs = time.Since(start).Milliseconds()
	return result, nil
}

// returnsRows reports whether the statement produces a result set. DML and
// DDL go through Exec so drivers report affected-row counts instead.
func returnsRows(sql string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH")
}
