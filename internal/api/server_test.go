package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/org/querygate/internal/crypto"
	"github.com/org/querygate/internal/engine"
	"github.com/org/querygate/internal/storage"
	"github.com/org/querygate/pkg/models"
)

// memStore is an in-memory storage.Store for handler tests, seeded with the
// same default permissions the migrations install.
type memStore struct {
	mu     sync.Mutex
	perms  map[string]models.RolePermission
	conns  map[int64]*models.DBConnection
	grants map[string]bool // "userID/connID"
	audit  []*models.AuditEntry
	nextID int64
}

func newMemStore() *memStore {
	s := &memStore{
		perms:  make(map[string]models.RolePermission),
		conns:  make(map[int64]*models.DBConnection),
		grants: make(map[string]bool),
		nextID: 1,
	}
	seed := []models.RolePermission{
		{Role: models.RoleAdmin, Operation: models.OpSelect, Allowed: true},
		{Role: models.RoleAdmin, Operation: models.OpInsert, Allowed: true},
		{Role: models.RoleAdmin, Operation: models.OpUpdate, Allowed: true},
		{Role: models.RoleAdmin, Operation: models.OpDelete, Allowed: true},
		{Role: models.RoleAdmin, Operation: models.OpJoin, Allowed: true},
		{Role: models.RoleAdmin, Operation: models.OpCTE, Allowed: true},
		{Role: models.RoleDeveloper, Operation: models.OpSelect, Allowed: true, MaxRows: 10000},
		{Role: models.RoleDeveloper, Operation: models.OpInsert, Allowed: true},
		{Role: models.RoleDeveloper, Operation: models.OpUpdate, Allowed: true},
		{Role: models.RoleDeveloper, Operation: models.OpJoin, Allowed: true, MaxRows: 10000},
		{Role: models.RoleDeveloper, Operation: models.OpCTE, Allowed: true, MaxRows: 10000},
		{Role: models.RoleAnalyst, Operation: models.OpSelect, Allowed: true, MaxRows: 1000},
		{Role: models.RoleAnalyst, Operation: models.OpJoin, Allowed: true, MaxRows: 1000},
	}
	for _, p := range seed {
		s.perms[permKey(p.Role, p.Operation)] = p
	}
	return s
}

func permKey(role models.Role, op models.Operation) string {
	return string(role) + "/" + string(op)
}

func grantKey(userID string, connID int64) string {
	return fmt.Sprintf("%s/%d", userID, connID)
}

func (s *memStore) GetPermission(_ context.Context, role models.Role, op models.Operation) (*models.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[permKey(role, op)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) ListPermissions(_ context.Context, role models.Role) ([]models.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RolePermission
	for _, p := range s.perms {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) UpsertPermission(_ context.Context, perm models.RolePermission) error {
	if perm.Role == models.RoleAdmin && !perm.Allowed {
		return storage.ErrAdminPermission
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[permKey(perm.Role, perm.Operation)] = perm
	return nil
}

func (s *memStore) CreateConnection(_ context.Context, conn *models.DBConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.Name == conn.Name {
			return storage.ErrAlreadyExists
		}
	}
	conn.ID = s.nextID
	s.nextID++
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = conn.CreatedAt
	cp := *conn
	s.conns[conn.ID] = &cp
	return nil
}

func (s *memStore) GetConnection(_ context.Context, id int64) (*models.DBConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListConnections(_ context.Context, activeOnly bool) ([]*models.DBConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DBConnection
	for _, c := range s.conns {
		if activeOnly && !c.Active {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpdateConnection(_ context.Context, conn *models.DBConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn.ID]; !ok {
		return storage.ErrNotFound
	}
	conn.UpdatedAt = time.Now()
	cp := *conn
	s.conns[conn.ID] = &cp
	return nil
}

func (s *memStore) DeleteConnection(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.conns, id)
	return nil
}

func (s *memStore) CreateGrant(_ context.Context, userID string, connID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey(userID, connID)] = true
	return nil
}

func (s *memStore) DeleteGrant(_ context.Context, userID string, connID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, grantKey(userID, connID))
	return nil
}

func (s *memStore) ListGrants(_ context.Context, userID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := range s.conns {
		if s.grants[grantKey(userID, id)] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memStore) ListGrantedUsers(_ context.Context, connID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key := range s.grants {
		suffix := fmt.Sprintf("/%d", connID)
		if strings.HasSuffix(key, suffix) {
			out = append(out, strings.TrimSuffix(key, suffix))
		}
	}
	return out, nil
}

func (s *memStore) HasGrant(_ context.Context, userID string, connID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[grantKey(userID, connID)], nil
}

func (s *memStore) WriteAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memStore) QueryAuditLog(_ context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range s.audit {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.ConnectionID != 0 && e.ConnectionID != filter.ConnectionID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) Close() {}

func (s *memStore) auditEntries() []*models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditEntry(nil), s.audit...)
}

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestServer(t *testing.T) (*Server, *memStore, http.Handler) {
	t.Helper()
	store := newMemStore()
	sealer, err := crypto.NewSealer(testMasterKey)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	srv := NewServer(store, sealer, engine.NewRegistry(engine.Postgres(), engine.SQLite()), Config{
		ListenAddr:   ":0",
		QueryTimeout: 5 * time.Second,
	})
	return srv, store, srv.BuildRouter()
}

func doRequest(h http.Handler, method, path, userID string, role models.Role, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Role", string(role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerConn(t *testing.T, store *memStore, name string, active bool) int64 {
	t.Helper()
	conn := &models.DBConnection{
		Name:         name,
		DBType:       "postgres",
		Host:         "db.internal",
		Port:         5432,
		DatabaseName: "orders",
		Username:     "app",
		Active:       active,
	}
	if err := store.CreateConnection(context.Background(), conn); err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	return conn.ID
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := withRequestID(context.Background(), "req-123")
	if got := requestIDFromCtx(ctx); got != "req-123" {
		t.Errorf("requestIDFromCtx = %q, want req-123", got)
	}
	if got := requestIDFromCtx(context.Background()); got != "" {
		t.Errorf("empty context yielded request id %q", got)
	}
}

func TestRequestIDHeaderAssigned(t *testing.T) {
	_, _, h := newTestServer(t)
	rec := doRequest(h, http.MethodGet, "/v1/sys/health", "", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID header on response")
	}
}

func TestIdentityRequired(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(h, http.MethodGet, "/v1/connections", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Role", "SUPERUSER")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown role: status = %d, want 401", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	_, _, h := newTestServer(t)
	rec := doRequest(h, http.MethodGet, "/v1/sys/health", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAdminRoutesRejectNonAdmin(t *testing.T) {
	_, store, h := newTestServer(t)
	id := registerConn(t, store, "orders", true)

	paths := []struct {
		method, path string
	}{
		{http.MethodPost, "/v1/connections"},
		{http.MethodPut, fmt.Sprintf("/v1/connections/%d", id)},
		{http.MethodDelete, fmt.Sprintf("/v1/connections/%d", id)},
		{http.MethodPut, "/v1/permissions/ANALYST/INSERT"},
		{http.MethodGet, "/v1/audit"},
	}
	for _, p := range paths {
		rec := doRequest(h, p.method, p.path, "dev1", models.RoleDeveloper, map[string]any{})
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s as DEVELOPER: status = %d, want 403", p.method, p.path, rec.Code)
		}
	}
}

func TestValidateBlocksDDLForAnalyst(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(h, http.MethodPost, "/v1/validate", "ana1", models.RoleAnalyst, map[string]any{
		"sql": "DROP TABLE users",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result models.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Valid {
		t.Error("DROP TABLE validated for ANALYST")
	}
	if result.Error == "" {
		t.Error("blocked result carries no error message")
	}
}

func TestValidateInjectsRowLimit(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(h, http.MethodPost, "/v1/validate", "ana1", models.RoleAnalyst, map[string]any{
		"sql": "SELECT id, name FROM customers",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result models.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !result.Valid {
		t.Fatalf("plain SELECT rejected: %s", result.Error)
	}
	if result.MaxRows != 1000 {
		t.Errorf("MaxRows = %d, want 1000", result.MaxRows)
	}
	if !strings.Contains(result.SanitizedSQL, "LIMIT 1000") {
		t.Errorf("SanitizedSQL = %q, want injected LIMIT 1000", result.SanitizedSQL)
	}
}

func TestQueryUnknownConnection(t *testing.T) {
	_, store, h := newTestServer(t)

	rec := doRequest(h, http.MethodPost, "/v1/query", "ana1", models.RoleAnalyst, map[string]any{
		"connection_id": 99,
		"sql":           "SELECT 1",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(store.auditEntries()) != 0 {
		t.Error("unknown connection should not be audited")
	}
}

func TestQueryInactiveConnection(t *testing.T) {
	_, store, h := newTestServer(t)
	id := registerConn(t, store, "retired", false)

	rec := doRequest(h, http.MethodPost, "/v1/query", "admin1", models.RoleAdmin, map[string]any{
		"connection_id": id,
		"sql":           "SELECT 1",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestQueryWithoutGrantIsBlockedAndAudited(t *testing.T) {
	_, store, h := newTestServer(t)
	id := registerConn(t, store, "orders", true)

	rec := doRequest(h, http.MethodPost, "/v1/query", "ana1", models.RoleAnalyst, map[string]any{
		"connection_id": id,
		"sql":           "SELECT * FROM orders",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	entries := store.auditEntries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Status != models.AuditBlocked {
		t.Errorf("audit status = %s, want BLOCKED", entries[0].Status)
	}
	if entries[0].UserID != "ana1" {
		t.Errorf("audit user = %s, want ana1", entries[0].UserID)
	}
}

func TestQueryBlockedByPolicyIsAudited(t *testing.T) {
	_, store, h := newTestServer(t)
	id := registerConn(t, store, "orders", true)
	store.CreateGrant(context.Background(), "ana1", id)

	rec := doRequest(h, http.MethodPost, "/v1/query", "ana1", models.RoleAnalyst, map[string]any{
		"connection_id": id,
		"sql":           "DELETE FROM orders",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var result models.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Valid {
		t.Error("DELETE validated for ANALYST")
	}

	entries := store.auditEntries()
	if len(entries) != 1 || entries[0].Status != models.AuditBlocked {
		t.Errorf("expected one BLOCKED audit entry, got %+v", entries)
	}
}

func TestConnectionCreateSealsCredential(t *testing.T) {
	_, store, h := newTestServer(t)

	rec := doRequest(h, http.MethodPost, "/v1/connections", "admin1", models.RoleAdmin, map[string]any{
		"name":          "orders",
		"db_type":       "postgres",
		"host":          "db.internal",
		"port":          5432,
		"database_name": "orders",
		"username":      "app",
		"password":      "hunter2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Error("response body leaks the plaintext password")
	}

	conn, err := store.GetConnection(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if len(conn.CredentialEnc) == 0 || len(conn.CredentialNonce) == 0 {
		t.Error("credential not sealed")
	}
	if bytes.Contains(conn.CredentialEnc, []byte("hunter2")) {
		t.Error("stored credential contains the plaintext")
	}
}

func TestConnectionCreateRejectsUnknownDBType(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(h, http.MethodPost, "/v1/connections", "admin1", models.RoleAdmin, map[string]any{
		"name":          "legacy",
		"db_type":       "oracle",
		"database_name": "legacy",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConnectionListFiltersByGrant(t *testing.T) {
	_, store, h := newTestServer(t)
	granted := registerConn(t, store, "orders", true)
	registerConn(t, store, "billing", true)
	store.CreateGrant(context.Background(), "dev1", granted)

	rec := doRequest(h, http.MethodGet, "/v1/connections", "dev1", models.RoleDeveloper, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Connections []*models.DBConnection `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Connections) != 1 || resp.Connections[0].ID != granted {
		t.Errorf("developer sees %+v, want only the granted connection", resp.Connections)
	}

	rec = doRequest(h, http.MethodGet, "/v1/connections", "admin1", models.RoleAdmin, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Connections) != 2 {
		t.Errorf("admin sees %d connections, want 2", len(resp.Connections))
	}
}

func TestPermissionUpdateRefusesAdminRevoke(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(h, http.MethodPut, "/v1/permissions/ADMIN/SELECT", "admin1", models.RoleAdmin, map[string]any{
		"allowed": false,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPermissionUpdateRejectsNonConfigurableOperation(t *testing.T) {
	_, _, h := newTestServer(t)

	for _, op := range []string{"DDL", "UNKNOWN", "VACUUM"} {
		rec := doRequest(h, http.MethodPut, "/v1/permissions/DEVELOPER/"+op, "admin1", models.RoleAdmin, map[string]any{
			"allowed": true,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s: status = %d, want 400", op, rec.Code)
		}
	}
}

func TestPermissionUpdateTakesEffect(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := doRequest(h, http.MethodPut, "/v1/permissions/ANALYST/INSERT", "admin1", models.RoleAdmin, map[string]any{
		"allowed":  true,
		"max_rows": 0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(h, http.MethodPost, "/v1/validate", "ana1", models.RoleAnalyst, map[string]any{
		"sql": "INSERT INTO notes (body) VALUES ('hi')",
	})
	var result models.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !result.Valid {
		t.Errorf("INSERT still rejected after permission grant: %s", result.Error)
	}
}

func TestAuditLogFiltering(t *testing.T) {
	_, store, h := newTestServer(t)
	id := registerConn(t, store, "orders", true)

	// Two blocked attempts from an analyst without a grant.
	for i := 0; i < 2; i++ {
		doRequest(h, http.MethodPost, "/v1/query", "ana1", models.RoleAnalyst, map[string]any{
			"connection_id": id,
			"sql":           "SELECT 1",
		})
	}

	rec := doRequest(h, http.MethodGet, "/v1/audit?status=BLOCKED&user_id=ana1", "admin1", models.RoleAdmin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Entries []*models.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(resp.Entries))
	}

	rec = doRequest(h, http.MethodGet, "/v1/audit?status=SUCCESS", "admin1", models.RoleAdmin, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Entries) != 0 {
		t.Errorf("SUCCESS entries = %d, want 0", len(resp.Entries))
	}
}

func TestGrantLifecycle(t *testing.T) {
	_, store, h := newTestServer(t)
	id := registerConn(t, store, "orders", true)

	rec := doRequest(h, http.MethodPost, fmt.Sprintf("/v1/connections/%d/grants", id), "admin1", models.RoleAdmin, map[string]any{
		"user_id": "dev1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant create: status = %d", rec.Code)
	}
	if ok, _ := store.HasGrant(context.Background(), "dev1", id); !ok {
		t.Fatal("grant not persisted")
	}

	rec = doRequest(h, http.MethodDelete, fmt.Sprintf("/v1/connections/%d/grants/dev1", id), "admin1", models.RoleAdmin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant delete: status = %d", rec.Code)
	}
	if ok, _ := store.HasGrant(context.Background(), "dev1", id); ok {
		t.Error("grant still present after revoke")
	}
}
