package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/querygate/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --- Role permissions ---

func (p *PostgresStore) GetPermission(ctx context.Context, role models.Role, op models.Operation) (*models.RolePermission, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT role, operation, allowed, max_rows FROM role_permissions
		 WHERE role = $1 AND operation = $2`,
		string(role), string(op),
	)
	var perm models.RolePermission
	if err := row.Scan(&perm.Role, &perm.Operation, &perm.Allowed, &perm.MaxRows); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &perm, nil
}

func (p *PostgresStore) ListPermissions(ctx context.Context, role models.Role) ([]models.RolePermission, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT role, operation, allowed, max_rows FROM role_permissions
		 WHERE role = $1 ORDER BY operation`,
		string(role),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []models.RolePermission
	for rows.Next() {
		var perm models.RolePermission
		if err := rows.Scan(&perm.Role, &perm.Operation, &perm.Allowed, &perm.MaxRows); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func (p *PostgresStore) UpsertPermission(ctx context.Context, perm models.RolePermission) error {
	if perm.Role == models.RoleAdmin && !perm.Allowed {
		return ErrAdminPermission
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO role_permissions (role, operation, allowed, max_rows)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (role, operation) DO UPDATE
		 SET allowed = EXCLUDED.allowed, max_rows = EXCLUDED.max_rows`,
		string(perm.Role), string(perm.Operation), perm.Allowed, perm.MaxRows,
	)
	return err
}

// --- Database connections ---

func (p *PostgresStore) CreateConnection(ctx context.Context, conn *models.DBConnection) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO db_connections
		   (name, db_type, host, port, database_name, username, credential_enc, credential_nonce, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		conn.Name, conn.DBType, conn.Host, conn.Port, conn.DatabaseName,
		conn.Username, conn.CredentialEnc, conn.CredentialNonce, conn.Active,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetConnection(ctx context.Context, id int64) (*models.DBConnection, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, db_type, host, port, database_name, username,
		        credential_enc, credential_nonce, active, created_at, updated_at
		 FROM db_connections WHERE id = $1`,
		id,
	)
	return scanConnection(row)
}

func (p *PostgresStore) ListConnections(ctx context.Context, activeOnly bool) ([]*models.DBConnection, error) {
	query := `SELECT id, name, db_type, host, port, database_name, username,
	                 credential_enc, credential_nonce, active, created_at, updated_at
	          FROM db_connections`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.DBConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (p *PostgresStore) UpdateConnection(ctx context.Context, conn *models.DBConnection) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE db_connections
		 SET name = $1, db_type = $2, host = $3, port = $4, database_name = $5,
		     username = $6, credential_enc = $7, credential_nonce = $8, active = $9,
		     updated_at = NOW()
		 WHERE id = $10`,
		conn.Name, conn.DBType, conn.Host, conn.Port, conn.DatabaseName,
		conn.Username, conn.CredentialEnc, conn.CredentialNonce, conn.Active, conn.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteConnection(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM db_connections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (*models.DBConnection, error) {
	var c models.DBConnection
	err := row.Scan(&c.ID, &c.Name, &c.DBType, &c.Host, &c.Port, &c.DatabaseName,
		&c.Username, &c.CredentialEnc, &c.CredentialNonce, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// --- Grants ---

func (p *PostgresStore) CreateGrant(ctx context.Context, userID string, connectionID int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO user_grants (user_id, connection_id, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id, connection_id) DO NOTHING`,
		userID, connectionID,
	)
	return err
}

func (p *PostgresStore) DeleteGrant(ctx context.Context, userID string, connectionID int64) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM user_grants WHERE user_id = $1 AND connection_id = $2`,
		userID, connectionID,
	)
	return err
}

func (p *PostgresStore) ListGrants(ctx context.Context, userID string) ([]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT connection_id FROM user_grants WHERE user_id = $1 ORDER BY connection_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) ListGrantedUsers(ctx context.Context, connectionID int64) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT user_id FROM user_grants WHERE connection_id = $1 ORDER BY user_id`,
		connectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresStore) HasGrant(ctx context.Context, userID string, connectionID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_grants WHERE user_id = $1 AND connection_id = $2)`,
		userID, connectionID,
	).Scan(&exists)
	return exists, err
}

// --- Audit ---

func (p *PostgresStore) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_log
		   (user_id, connection_id, sql_text, status, error_message, execution_ms, row_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.UserID, entry.ConnectionID, entry.SQLText, entry.Status,
		nullableString(entry.ErrorMessage), entry.ExecutionMs, entry.RowCount, entry.Timestamp,
	)
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (p *PostgresStore) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, user_id, connection_id, sql_text, status, error_message, execution_ms, row_count, created_at FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.UserID != "" {
		fmt.Fprintf(&query, ` AND user_id = $%d`, n)
		args = append(args, filter.UserID)
		n++
	}
	if filter.ConnectionID != 0 {
		fmt.Fprintf(&query, ` AND connection_id = $%d`, n)
		args = append(args, filter.ConnectionID)
		n++
	}
	if filter.Status != "" {
		fmt.Fprintf(&query, ` AND status = $%d`, n)
		args = append(args, filter.Status)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND created_at >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var errMsg *string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConnectionID, &e.SQLText, &e.Status,
			&errMsg, &e.ExecutionMs, &e.RowCount, &e.Timestamp); err != nil {
			return nil, err
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
