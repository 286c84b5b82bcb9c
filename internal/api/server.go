package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/querygate/internal/audit"
	"github.com/org/querygate/internal/crypto"
	"github.com/org/querygate/internal/engine"
	"github.com/org/querygate/internal/policy"
	"github.com/org/querygate/internal/pool"
	"github.com/org/querygate/internal/query"
	"github.com/org/querygate/internal/sqlguard"
	"github.com/org/querygate/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr   string
	TLSCertFile  string
	TLSKeyFile   string
	QueryTimeout time.Duration
}

// Server is the HTTP request layer over the gatekeeper, pool manager,
// executor and introspector.
type Server struct {
	store      storage.Store
	policy     *policy.Store
	gate       *sqlguard.Gatekeeper
	pools      *pool.Manager
	exec       *query.Executor
	introspect *query.Introspector
	sealer     *crypto.Sealer
	auditor    *audit.Logger
	cfg        Config
	httpSrv    *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, sealer *crypto.Sealer, engines *engine.Registry, cfg Config) *Server {
	policyStore := policy.NewStore(store)
	pools := pool.NewManager(store, sealer, engines)

	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}

	return &Server{
		store:      store,
		policy:     policyStore,
		gate:       sqlguard.New(policyStore),
		pools:      pools,
		exec:       query.NewExecutor(pools),
		introspect: query.NewIntrospector(pools),
		sealer:     sealer,
		auditor:    audit.NewLogger(store),
		cfg:        cfg,
	}
}

// Pools exposes the pool manager for shutdown wiring.
func (s *Server) Pools() *pool.Manager {
	return s.pools
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	// Prometheus metrics and health (unauthenticated)
	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)

		r.Post("/v1/query", s.QueryHandler)
		r.Post("/v1/validate", s.ValidateHandler)
		r.Get("/v1/connections", s.ConnectionListHandler)
		r.Get("/v1/connections/{id}/schema", s.SchemaHandler)
		r.Get("/v1/permissions/{role}", s.PermissionsHandler)

		// Administration
		r.Group(func(r chi.Router) {
			r.Use(adminOnly)

			r.Post("/v1/connections", s.ConnectionCreateHandler)
			r.Put("/v1/connections/{id}", s.ConnectionUpdateHandler)
			r.Delete("/v1/connections/{id}", s.ConnectionDeleteHandler)
			r.Get("/v1/connections/{id}/grants", s.GrantListHandler)
			r.Post("/v1/connections/{id}/grants", s.GrantCreateHandler)
			r.Delete("/v1/connections/{id}/grants/{userID}", s.GrantDeleteHandler)
			r.Put("/v1/permissions/{role}/{operation}", s.PermissionUpdateHandler)
			r.Get("/v1/audit", s.AuditLogHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.QueryTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server and closes all connection pools.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.pools.ShutdownAll()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
