// Package pool owns the registry of live connection pools, one per
// registered database connection. Pools are built lazily on first use and
// torn down on configuration change or shutdown; at most one pool ever
// exists per connection id.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/org/querygate/internal/engine"
	"github.com/org/querygate/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrDriverUnavailable is returned when a connection's engine type has no
// registered implementation. A configuration error for that connection only;
// other engine types remain usable.
var ErrDriverUnavailable = errors.New("driver unavailable")

// ErrConnectionInactive is returned for connections whose active flag is
// cleared.
var ErrConnectionInactive = errors.New("connection is not active")

// ConfigSource is the minimal interface the Manager needs from storage.
type ConfigSource interface {
	GetConnection(ctx context.Context, id int64) (*models.DBConnection, error)
}

// CredentialOpener decrypts a stored credential blob.
type CredentialOpener interface {
	Open(ciphertext, nonce []byte) ([]byte, error)
}

// Lease is one borrowed connection plus the engine context the executor and
// introspector need. Release must be called exactly once, on every exit
// path.
type Lease struct {
	conn     engine.Conn
	eng      engine.Engine
	database string
	once     sync.Once
}

// Conn returns the borrowed connection.
func (l *Lease) Conn() engine.Conn { return l.conn }

// Engine returns the engine serving this lease.
func (l *Lease) Engine() engine.Engine { return l.eng }

// Database returns the target database name of the underlying connection
// config.
func (l *Lease) Database() string { return l.database }

// Release returns the connection to its pool. Safe to call more than once;
// only the first call has effect.
func (l *Lease) Release() {
	l.once.Do(l.conn.Release)
}

type entry struct {
	pool engine.Pool
	eng  engine.Engine
	db   string
}

// Manager is the connection pool registry. The zero value is not usable;
// construct with NewManager. All methods are safe for concurrent use, and
// acquires for different connection ids never block each other.
type Manager struct {
	store    ConfigSource
	creds    CredentialOpener
	registry *engine.Registry

	mu    sync.RWMutex
	pools map[int64]entry
	gens  map[int64]uint64
	group singleflight.Group
}

// NewManager creates a Manager routing to the given engine registry.
func NewManager(store ConfigSource, creds CredentialOpener, registry *engine.Registry) *Manager {
	return &Manager{
		store:    store,
		creds:    creds,
		registry: registry,
		pools:    make(map[int64]entry),
		gens:     make(map[int64]uint64),
	}
}

// Acquire borrows one connection to the given registered database, building
// the pool on first use. Concurrent first-use calls for the same id share a
// single construction; a failed construction registers nothing, so the next
// call retries cleanly.
func (m *Manager) Acquire(ctx context.Context, connectionID int64) (*Lease, error) {
	m.mu.RLock()
	e, ok := m.pools[connectionID]
	m.mu.RUnlock()

	if !ok {
		v, err, _ := m.group.Do(strconv.FormatInt(connectionID, 10), func() (any, error) {
			// Re-check under the lock: another flight may have finished
			// between the read above and this one.
			m.mu.RLock()
			existing, ok := m.pools[connectionID]
			m.mu.RUnlock()
			if ok {
				return existing, nil
			}
			return m.build(ctx, connectionID)
		})
		if err != nil {
			return nil, err
		}
		e = v.(entry)
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection %d: %w", connectionID, err)
	}
	return &Lease{conn: conn, eng: e.eng, database: e.db}, nil
}

// build loads the config, decrypts the credential and opens a fresh pool,
// registering it before returning. Only ever called inside a singleflight
// for the connection id. An Invalidate that lands while the pool is being
// opened moves the id's generation; the freshly opened pool is then closed
// and the build restarts with the current config.
func (m *Manager) build(ctx context.Context, connectionID int64) (entry, error) {
	for {
		m.mu.RLock()
		gen := m.gens[connectionID]
		m.mu.RUnlock()

		e, err := m.open(ctx, connectionID)
		if err != nil {
			return entry{}, err
		}

		m.mu.Lock()
		if m.gens[connectionID] != gen {
			m.mu.Unlock()
			e.pool.Close()
			continue
		}
		m.pools[connectionID] = e
		m.mu.Unlock()
		return e, nil
	}
}

func (m *Manager) open(ctx context.Context, connectionID int64) (entry, error) {
	cfg, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return entry{}, fmt.Errorf("loading connection %d: %w", connectionID, err)
	}
	if !cfg.Active {
		return entry{}, fmt.Errorf("connection %d: %w", connectionID, ErrConnectionInactive)
	}

	engType, err := engine.ParseType(cfg.DBType)
	if err != nil {
		return entry{}, fmt.Errorf("connection %d: %w: %v", connectionID, ErrDriverUnavailable, err)
	}
	eng, ok := m.registry.Lookup(engType)
	if !ok {
		return entry{}, fmt.Errorf("connection %d: %w: no engine registered for %s", connectionID, ErrDriverUnavailable, engType)
	}

	password, err := m.creds.Open(cfg.CredentialEnc, cfg.CredentialNonce)
	if err != nil {
		return entry{}, fmt.Errorf("decrypting credential for connection %d: %w", connectionID, err)
	}

	pool, err := eng.Open(ctx, engine.ConnSpec{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.DatabaseName,
		Username: cfg.Username,
		Password: string(password),
		MinConns: 1,
		MaxConns: 5,
	})
	if err != nil {
		return entry{}, fmt.Errorf("opening pool for connection %d: %w", connectionID, err)
	}

	log.Info().Int64("connection_id", connectionID).Str("db_type", cfg.DBType).Msg("connection pool created")
	return entry{pool: pool, eng: eng, db: cfg.DatabaseName}, nil
}

// Invalidate closes and evicts the pool for a connection id. Must be called
// whenever the underlying config changes so the next Acquire rebuilds with
// fresh settings. Bumping the generation also covers a build in flight for
// this id: its pool is discarded at registration and rebuilt.
func (m *Manager) Invalidate(connectionID int64) {
	m.mu.Lock()
	m.gens[connectionID]++
	e, ok := m.pools[connectionID]
	delete(m.pools, connectionID)
	m.mu.Unlock()

	if ok {
		e.pool.Close()
		log.Info().Int64("connection_id", connectionID).Msg("connection pool invalidated")
	}
}

// ShutdownAll closes every pool. Called on process termination.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[int64]entry)
	m.mu.Unlock()

	for id, e := range pools {
		e.pool.Close()
		log.Debug().Int64("connection_id", id).Msg("connection pool closed")
	}
}

// Count returns the number of live pools.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Dialect resolves the row-limiting dialect for an engine type tag.
func (m *Manager) Dialect(dbType string) (engine.Dialect, error) {
	t, err := engine.ParseType(dbType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	}
	eng, ok := m.registry.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: no engine registered for %s", ErrDriverUnavailable, t)
	}
	return eng.Dialect(), nil
}
