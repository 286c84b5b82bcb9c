package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/org/querygate/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLite returns the SQLite engine, backed by the pure-Go modernc driver.
// The connection config's database name is the database file path; host,
// port and credentials are ignored.
func SQLite() Engine {
	return sqliteEngine{}
}

type sqliteEngine struct{}

func (sqliteEngine) Type() Type { return TypeSQLite }

func (sqliteEngine) Dialect() Dialect {
	return limitDialect{native: limitClause}
}

func (sqliteEngine) Open(ctx context.Context, spec ConnSpec) (Pool, error) {
	db, err := sql.Open("sqlite", spec.Database)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	pool := newSQLPool(db, spec)
	if err := db.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	return pool, nil
}

func (sqliteEngine) Introspect(ctx context.Context, conn Conn, database string) ([]models.TableSchema, error) {
	tables, err := conn.Query(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite_master: %w", err)
	}
	var names []string
	for tables.Next() {
		vals, err := tables.Values()
		if err != nil {
			tables.Close()
			return nil, err
		}
		if name, ok := vals[0].(string); ok {
			names = append(names, name)
		}
	}
	if err := tables.Err(); err != nil {
		tables.Close()
		return nil, err
	}
	tables.Close()

	schemas := make([]models.TableSchema, 0, len(names))
	for _, name := range names {
		// PRAGMA arguments cannot be bound; quote the identifier inline.
		quoted := `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
		cols, err := conn.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoted))
		if err != nil {
			return nil, fmt.Errorf("reading table_info for %s: %w", name, err)
		}
		ts := models.TableSchema{TableName: name}
		for cols.Next() {
			vals, err := cols.Values()
			if err != nil {
				cols.Close()
				return nil, err
			}
			// table_info rows: cid, name, type, notnull, dflt_value, pk
			colName, _ := vals[1].(string)
			colType, _ := vals[2].(string)
			ts.Columns = append(ts.Columns, models.ColumnSchema{Name: colName, Type: colType})
		}
		if err := cols.Err(); err != nil {
			cols.Close()
			return nil, err
		}
		cols.Close()
		schemas = append(schemas, ts)
	}
	return schemas, nil
}
