package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/querygate/internal/engine"
	"github.com/org/querygate/internal/storage"
	"github.com/org/querygate/pkg/models"
)

type connectionRequest struct {
	Name         string `json:"name"`
	DBType       string `json:"db_type"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DatabaseName string `json:"database_name"`
	Username     string `json:"username"`
	// Password is plaintext in flight and encrypted before it touches disk.
	// Empty on update means "keep the stored credential".
	Password string `json:"password,omitempty"`
	Active   *bool  `json:"active,omitempty"`
}

// ConnectionCreateHandler handles POST /v1/connections.
func (s *Server) ConnectionCreateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.DatabaseName == "" {
		writeError(w, http.StatusBadRequest, "name and database_name are required")
		return
	}
	if _, err := engine.ParseType(req.DBType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enc, nonce, err := s.sealer.Seal([]byte(req.Password))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sealing credential failed")
		return
	}

	conn := &models.DBConnection{
		Name:            req.Name,
		DBType:          req.DBType,
		Host:            req.Host,
		Port:            req.Port,
		DatabaseName:    req.DatabaseName,
		Username:        req.Username,
		CredentialEnc:   enc,
		CredentialNonce: nonce,
		Active:          req.Active == nil || *req.Active,
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "a connection with this name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// ConnectionListHandler handles GET /v1/connections. Non-ADMIN callers see
// only active connections they hold a grant for.
func (s *Server) ConnectionListHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := identityFromCtx(ctx)

	if caller.Role == models.RoleAdmin {
		conns, err := s.store.ListConnections(ctx, false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
		return
	}

	granted, err := s.store.ListGrants(ctx, caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	grantSet := make(map[int64]bool, len(granted))
	for _, id := range granted {
		grantSet[id] = true
	}
	all, err := s.store.ListConnections(ctx, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	visible := []*models.DBConnection{}
	for _, c := range all {
		if grantSet[c.ID] {
			visible = append(visible, c)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": visible})
}

// ConnectionUpdateHandler handles PUT /v1/connections/{id}. Any change
// invalidates the live pool so the next acquire rebuilds with fresh
// settings.
func (s *Server) ConnectionUpdateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.DBType != "" {
		if _, err := engine.ParseType(req.DBType); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		conn.DBType = req.DBType
	}
	if req.Host != "" {
		conn.Host = req.Host
	}
	if req.Port != 0 {
		conn.Port = req.Port
	}
	if req.DatabaseName != "" {
		conn.DatabaseName = req.DatabaseName
	}
	if req.Username != "" {
		conn.Username = req.Username
	}
	if req.Password != "" {
		enc, nonce, err := s.sealer.Seal([]byte(req.Password))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "sealing credential failed")
			return
		}
		conn.CredentialEnc = enc
		conn.CredentialNonce = nonce
	}
	if req.Active != nil {
		conn.Active = *req.Active
	}

	if err := s.store.UpdateConnection(ctx, conn); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pools.Invalidate(id)
	writeJSON(w, http.StatusOK, conn)
}

// ConnectionDeleteHandler handles DELETE /v1/connections/{id}.
func (s *Server) ConnectionDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	if err := s.store.DeleteConnection(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pools.Invalidate(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GrantListHandler handles GET /v1/connections/{id}/grants.
func (s *Server) GrantListHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	users, err := s.store.ListGrantedUsers(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection_id": id, "user_ids": users})
}

// GrantCreateHandler handles POST /v1/connections/{id}/grants.
func (s *Server) GrantCreateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if _, err := s.store.GetConnection(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.CreateGrant(r.Context(), req.UserID, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user_id": req.UserID, "connection_id": id})
}

// GrantDeleteHandler handles DELETE /v1/connections/{id}/grants/{userID}.
func (s *Server) GrantDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := s.store.DeleteGrant(r.Context(), userID, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// PermissionUpdateHandler handles PUT /v1/permissions/{role}/{operation}.
// DDL and UNKNOWN are not configurable; attempts to clear an ADMIN allowed
// flag are refused.
func (s *Server) PermissionUpdateHandler(w http.ResponseWriter, r *http.Request) {
	role, err := models.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	op, err := models.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Allowed bool `json:"allowed"`
		MaxRows int  `json:"max_rows"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	perm := models.RolePermission{Role: role, Operation: op, Allowed: req.Allowed, MaxRows: req.MaxRows}
	if err := s.store.UpsertPermission(r.Context(), perm); err != nil {
		if errors.Is(err, storage.ErrAdminPermission) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

// AuditLogHandler handles GET /v1/audit with optional user_id, connection_id,
// status, since (RFC 3339), limit and offset query parameters.
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AuditFilter{
		UserID: q.Get("user_id"),
		Status: q.Get("status"),
		Limit:  100,
	}
	if v := q.Get("connection_id"); v != "" {
		filter.ConnectionID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = &t
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
