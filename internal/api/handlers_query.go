package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/querygate/internal/pool"
	"github.com/org/querygate/internal/sqlguard"
	"github.com/org/querygate/internal/storage"
	"github.com/org/querygate/pkg/models"
)

type queryRequest struct {
	ConnectionID int64  `json:"connection_id"`
	SQL          string `json:"sql"`
	// TableAllowList restricts the query to named tables when present.
	// Computed by the upstream application from its own table-level RBAC.
	TableAllowList []string `json:"table_allow_list,omitempty"`
}

// QueryHandler handles POST /v1/query: grant check, validation, execution,
// one audit record regardless of outcome.
func (s *Server) QueryHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := identityFromCtx(ctx)

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SQL == "" || req.ConnectionID == 0 {
		writeError(w, http.StatusBadRequest, "connection_id and sql are required")
		return
	}

	conn, ok := s.resolveConnection(w, r, req.ConnectionID, req.SQL)
	if !ok {
		return
	}

	dialect, err := s.pools.Dialect(conn.DBType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := s.gate.Validate(ctx, req.SQL, caller.Role, req.TableAllowList, dialect)
	if !result.Valid {
		validationsTotal.WithLabelValues("blocked").Inc()
		s.audit(ctx, caller.UserID, req.ConnectionID, req.SQL, models.AuditBlocked, result.Error, 0, 0)
		writeJSON(w, http.StatusForbidden, result)
		return
	}
	validationsTotal.WithLabelValues("allowed").Inc()

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	qr, err := s.exec.Execute(execCtx, req.ConnectionID, result.SanitizedSQL, result.MaxRows)
	queryDuration.WithLabelValues(conn.DBType).Observe(time.Since(start).Seconds())
	activePools.Set(float64(s.pools.Count()))
	if err != nil {
		queriesTotal.WithLabelValues(models.AuditFailed).Inc()
		s.audit(ctx, caller.UserID, req.ConnectionID, req.SQL, models.AuditFailed,
			err.Error(), time.Since(start).Milliseconds(), 0)
		status := http.StatusBadRequest
		if errors.Is(err, pool.ErrDriverUnavailable) || errors.Is(err, pool.ErrConnectionInactive) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	queriesTotal.WithLabelValues(models.AuditSuccess).Inc()
	s.audit(ctx, caller.UserID, req.ConnectionID, req.SQL, models.AuditSuccess, "", qr.ExecutionMs, qr.RowCount)
	writeJSON(w, http.StatusOK, qr)
}

// ValidateHandler handles POST /v1/validate: a dry run through the
// gatekeeper with no execution and no audit record.
func (s *Server) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := identityFromCtx(ctx)

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := s.gate.Validate(ctx, req.SQL, caller.Role, req.TableAllowList, s.dialectFor(ctx, req.ConnectionID))
	writeJSON(w, http.StatusOK, result)
}

// SchemaHandler handles GET /v1/connections/{id}/schema.
func (s *Server) SchemaHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	if _, ok := s.resolveConnection(w, r, id, ""); !ok {
		return
	}

	schemaCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	schemas, err := s.introspect.GetSchema(schemaCtx, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": schemas})
}

// PermissionsHandler handles GET /v1/permissions/{role}.
func (s *Server) PermissionsHandler(w http.ResponseWriter, r *http.Request) {
	role, err := models.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.policy.PermissionsFor(r.Context(), role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// resolveConnection loads a connection and enforces the grant check: ADMIN
// has implicit access to everything, everyone else needs a grant row. On
// failure it writes the response (and a BLOCKED audit record when sql is
// non-empty) and returns ok=false.
func (s *Server) resolveConnection(w http.ResponseWriter, r *http.Request, id int64, sql string) (*models.DBConnection, bool) {
	ctx := r.Context()
	caller := identityFromCtx(ctx)

	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	if !conn.Active {
		writeError(w, http.StatusConflict, "connection is not active")
		return nil, false
	}

	if caller.Role != models.RoleAdmin {
		granted, err := s.store.HasGrant(ctx, caller.UserID, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return nil, false
		}
		if !granted {
			if sql != "" {
				s.audit(ctx, caller.UserID, id, sql, models.AuditBlocked, "no grant for connection", 0, 0)
			}
			writeError(w, http.StatusForbidden, "access denied to this database connection")
			return nil, false
		}
	}
	return conn, true
}

func (s *Server) audit(ctx context.Context, userID string, connID int64, sql, status, errMsg string, ms int64, rows int) {
	s.auditor.Record(ctx, &models.AuditEntry{
		UserID:       userID,
		ConnectionID: connID,
		SQLText:      sql,
		Status:       status,
		ErrorMessage: errMsg,
		ExecutionMs:  ms,
		RowCount:     rows,
	})
}

// dialectFor resolves a connection's row-limiting dialect for dry-run
// validation, falling back to the postgres idiom when the connection cannot
// be resolved (the validate endpoint should still report policy decisions).
func (s *Server) dialectFor(ctx context.Context, connectionID int64) sqlguard.Dialect {
	if connectionID != 0 {
		if conn, err := s.store.GetConnection(ctx, connectionID); err == nil {
			if d, err := s.pools.Dialect(conn.DBType); err == nil {
				return d
			}
		}
	}
	d, _ := s.pools.Dialect("postgres")
	return d
}
