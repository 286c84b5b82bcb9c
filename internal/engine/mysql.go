package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/org/querygate/pkg/models"
)

// MySQL returns the MySQL engine, backed by database/sql.
func MySQL() Engine {
	return mysqlEngine{}
}

type mysqlEngine struct{}

func (mysqlEngine) Type() Type { return TypeMySQL }

func (mysqlEngine) Dialect() Dialect {
	return limitDialect{native: limitClause}
}

func (mysqlEngine) Open(ctx context.Context, spec ConnSpec) (Pool, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		spec.Username, spec.Password, spec.Host, spec.Port, spec.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql: %w", err)
	}
	pool := newSQLPool(db, spec)
	if err := db.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return pool, nil
}

func (mysqlEngine) Introspect(ctx context.Context, conn Conn, database string) ([]models.TableSchema, error) {
	rows, err := conn.Query(ctx,
		`SELECT c.table_name, c.column_name, c.data_type
		 FROM information_schema.columns c
		 JOIN information_schema.tables t
		   ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		 WHERE c.table_schema = ? AND t.table_type = 'BASE TABLE'
		 ORDER BY c.table_name, c.ordinal_position`,
		database)
	if err != nil {
		return nil, fmt.Errorf("querying mysql catalog: %w", err)
	}
	defer rows.Close()
	return groupCatalogRows(rows)
}
