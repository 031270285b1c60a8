package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"querygate/internal/domain"
)

// driverFor maps catalog engine kinds onto registered database/sql drivers.
var driverFor = map[string]string{
	domain.EngineDuckDB:   "duckdb",
	domain.EnginePostgres: "postgres",
	domain.EngineMySQL:    "mysql",
	domain.EngineSQLite:   "sqlite3",
}

const (
	poolMaxOpen     = 8
	poolMaxIdle     = 2
	poolMaxLifetime = 30 * time.Minute
)

// Resolver opens connections to cataloged datasources. It keeps one lazily
// created *sql.DB pool per (datasource, credential profile) pair and hands
// out single checked-out connections from it.
type Resolver struct {
	catalog domain.DatasourceCatalog
	logger  *slog.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

var _ domain.ConnectionResolver = (*Resolver)(nil)

// NewResolver creates a connection resolver over the given catalog.
func NewResolver(cat domain.DatasourceCatalog, logger *slog.Logger) *Resolver {
	return &Resolver{
		catalog: cat,
		logger:  logger.With("component", "connection_resolver"),
		pools:   make(map[string]*sql.DB),
	}
}

// OpenConnection checks out one connection for the datasource under the
// given credential profile. The caller owns the returned handle and must
// Close it.
func (r *Resolver) OpenConnection(ctx context.Context, datasourceID, credentialProfile string) (domain.ConnectionHandle, error) {
	ds, err := r.catalog.Get(datasourceID)
	if err != nil {
		return nil, err
	}
	profile, ok := ds.Profile(credentialProfile)
	if !ok {
		return nil, domain.ErrCredentialNotFound("credential profile %q not configured on datasource %q", credentialProfile, datasourceID)
	}

	pool, err := r.pool(ds, profile)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout connection for %s/%s: %w", datasourceID, credentialProfile, err)
	}
	return &connHandle{conn: conn}, nil
}

// pool returns the shared pool for one datasource/profile pair, creating it
// on first use.
func (r *Resolver) pool(ds *domain.Datasource, profile domain.CredentialProfile) (*sql.DB, error) {
	key := ds.ID + "\x00" + profile.Name

	r.mu.Lock()
	defer r.mu.Unlock()
	if pool, ok := r.pools[key]; ok {
		return pool, nil
	}

	driver := driverFor[ds.Engine]
	if !slices.Contains(sql.Drivers(), driver) {
		return nil, domain.ErrDriverUnavailable("driver %q for engine %q is not registered", driver, ds.Engine)
	}
	pool, err := sql.Open(driver, profile.DSN)
	if err != nil {
		return nil, domain.ErrDriverUnavailable("open %s pool for datasource %q: %v", ds.Engine, ds.ID, err)
	}
	pool.SetMaxOpenConns(poolMaxOpen)
	pool.SetMaxIdleConns(poolMaxIdle)
	pool.SetConnMaxLifetime(poolMaxLifetime)

	r.logger.Debug("opened connection pool", "datasource", ds.ID, "profile", profile.Name, "engine", ds.Engine)
	r.pools[key] = pool
	return pool, nil
}

// Close shuts down every pool. New OpenConnection calls will recreate them.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for key, pool := range r.pools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.pools, key)
	}
	return firstErr
}

// connHandle wraps one checked-out connection. Close returns it to the pool
// (or tears it down if the connection is mid-query, which is exactly what the
// forceful cancellation path relies on).
type connHandle struct {
	conn      *sql.Conn
	closeOnce sync.Once
	closeErr  error
}

var _ domain.ConnectionHandle = (*connHandle)(nil)

func (h *connHandle) QueryContext(ctx context.Context, query string) (*sql.Rows, error) {
	return h.conn.QueryContext(ctx, query)
}

func (h *connHandle) ExecContext(ctx context.Context, query string) (sql.Result, error) {
	return h.conn.ExecContext(ctx, query)
}

func (h *connHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.conn.Close()
	})
	return h.closeErr
}
