// Package manager caches tenant connection handles: one open handle per
// tenant id, coalesced opens, and a single shutdown path that releases
// everything.
package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/connection"
	"github.com/ViktorVelikov13/tenora/dialect"
	"github.com/ViktorVelikov13/tenora/migrate"
	"github.com/ViktorVelikov13/tenora/observability/logger"
	"github.com/ViktorVelikov13/tenora/registry"
)

// ErrClosed means DestroyAll already ran; the manager cannot be reused.
var ErrClosed = errors.New("manager: closed")

// PoolStat es un snapshot del estado de un pool específico.
type PoolStat struct {
	TenantID string // empty for the base handle
	Stats    sql.DBStats
}

// Manager owns the base handle and the tenant handle cache. The map is the
// only shared mutable state and never leaves the struct.
type Manager struct {
	cfg    *config.Config
	family dialect.Family
	store  *registry.Store
	base   *sql.DB

	mu      sync.RWMutex
	tenants map[string]*sql.DB
	closed  bool
	group   singleflight.Group

	gauge            func(open int)
	migrationObserve func(database string, d time.Duration)
}

type Option func(*Manager)

// WithPoolGauge reporta el tamaño del cache tras cada cambio (gauge de
// Prometheus, típicamente).
func WithPoolGauge(fn func(open int)) Option {
	return func(m *Manager) { m.gauge = fn }
}

// WithMigrationObserver callback para reportar métricas de migraciones.
func WithMigrationObserver(fn func(database string, d time.Duration)) Option {
	return func(m *Manager) { m.migrationObserve = fn }
}

// New opens the base handle once and returns a ready manager.
func New(ctx context.Context, cfg *config.Config, store *registry.Store, opts ...Option) (*Manager, error) {
	d, err := connection.Base(&cfg.Base)
	if err != nil {
		return nil, err
	}
	base, err := connection.Open(ctx, d, cfg.Base.Pool)
	if err != nil {
		return nil, fmt.Errorf("manager: open base connection: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		family:  dialect.Classify(cfg.Base.Client),
		store:   store,
		base:    base,
		tenants: make(map[string]*sql.DB),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Base returns the shared base handle. Callers must not close it.
func (m *Manager) Base() *sql.DB { return m.base }

func (m *Manager) reportGauge() {
	if m.gauge != nil {
		m.mu.RLock()
		n := len(m.tenants)
		m.mu.RUnlock()
		m.gauge(n)
	}
}

func (m *Manager) tenantPool() config.PoolConfig {
	if m.cfg.Tenants.Pool != nil {
		return *m.cfg.Tenants.Pool
	}
	return m.cfg.Base.Pool
}

// resolvePassword recovers the tenant credential from the registry. An
// unregistered tenant falls back to the base credentials.
func (m *Manager) resolvePassword(ctx context.Context, tenantID string) (*string, error) {
	rec, err := m.store.Lookup(ctx, m.base, tenantID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return m.store.ResolvePassword(*rec)
}

func (m *Manager) openTenant(ctx context.Context, tenantID string, caller *string) (*sql.DB, error) {
	password := caller
	if password == nil {
		var err error
		password, err = m.resolvePassword(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	}
	d, err := connection.Tenant(&m.cfg.Base, &m.cfg.Tenants, tenantID, password)
	if err != nil {
		return nil, err
	}
	return connection.Open(ctx, d, m.tenantPool())
}

// Tenant returns the cached handle for a tenant, opening it on first use.
// Concurrent first calls for the same id are coalesced into a single open, so
// exactly one handle per tenant ever exists. An optional password wins over
// registry resolution, so a credential known to the caller (say, right after
// external provisioning) opens a handle even for an unregistered tenant.
func (m *Manager) Tenant(ctx context.Context, tenantID string, password ...string) (*sql.DB, error) {
	var caller *string
	if len(password) > 0 {
		caller = &password[0]
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	if db, ok := m.tenants[tenantID]; ok {
		m.mu.RUnlock()
		return db, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.group.Do(tenantID, func() (any, error) {
		m.mu.RLock()
		db, ok := m.tenants[tenantID]
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return nil, ErrClosed
		}
		if ok {
			return db, nil
		}

		db, err := m.openTenant(ctx, tenantID, caller)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = db.Close()
			return nil, ErrClosed
		}
		m.tenants[tenantID] = db
		m.mu.Unlock()

		logger.Named("manager").Debug("tenant handle cached", logger.Tenant(tenantID))
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	m.reportGauge()
	return v.(*sql.DB), nil
}

// DestroyTenant closes and evicts one cached handle. Unknown ids are a no-op.
func (m *Manager) DestroyTenant(tenantID string) error {
	m.mu.Lock()
	db, ok := m.tenants[tenantID]
	delete(m.tenants, tenantID)
	m.mu.Unlock()

	m.reportGauge()
	if !ok {
		return nil
	}
	return db.Close()
}

// DestroyAll closes every cached tenant handle concurrently, then the base
// handle. This is the shutdown path; the manager is unusable afterwards.
func (m *Manager) DestroyAll() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	tenants := m.tenants
	m.tenants = make(map[string]*sql.DB)
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 0, len(tenants)+1)
		emu  sync.Mutex
	)
	for id, db := range tenants {
		wg.Add(1)
		go func(id string, db *sql.DB) {
			defer wg.Done()
			if err := db.Close(); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
				emu.Unlock()
			}
		}(id, db)
	}
	wg.Wait()

	if err := m.base.Close(); err != nil {
		errs = append(errs, fmt.Errorf("base: %w", err))
	}
	if m.gauge != nil {
		m.gauge(0)
	}
	return errors.Join(errs...)
}

// Stats snapshots the base pool and every cached tenant pool.
func (m *Manager) Stats() []PoolStat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PoolStat, 0, len(m.tenants)+1)
	out = append(out, PoolStat{Stats: m.base.Stats()})
	for id, db := range m.tenants {
		out = append(out, PoolStat{TenantID: id, Stats: db.Stats()})
	}
	return out
}

// MigrateTenants runs the tenant migrations for every registered tenant,
// sequentially, opening and closing one uncached connection per tenant so
// peak usage stays at base plus one. A failing tenant is recorded and the
// loop continues; the summary error joins all failures.
func (m *Manager) MigrateTenants(ctx context.Context) error {
	return m.eachTenant(ctx, "migrate", func(db *sql.DB, dbName string) error {
		_, err := migrate.Up(m.family, db, m.cfg.Tenants.MigrationsDir, dbName)
		return err
	})
}

// RollbackTenants reverts every registered tenant's migrations with the same
// continue-past-failure behavior as MigrateTenants.
func (m *Manager) RollbackTenants(ctx context.Context, steps int) error {
	return m.eachTenant(ctx, "rollback", func(db *sql.DB, dbName string) error {
		_, err := migrate.Rollback(m.family, db, m.cfg.Tenants.MigrationsDir, dbName, steps)
		return err
	})
}

func (m *Manager) eachTenant(ctx context.Context, op string, fn func(db *sql.DB, dbName string) error) error {
	if m.cfg.Tenants.MigrationsDir == "" {
		return fmt.Errorf("manager: tenants.migrations_dir is not configured")
	}
	recs, err := m.store.List(ctx, m.base)
	if err != nil {
		return err
	}

	log := logger.Named("manager")
	var errs []error
	for _, rec := range recs {
		start := time.Now()
		dbName := m.cfg.Tenants.DatabaseName(rec.ID)
		if err := m.withTenantConn(ctx, rec, func(db *sql.DB) error {
			return fn(db, dbName)
		}); err != nil {
			log.Error(op+" failed for tenant, continuing",
				logger.Tenant(rec.ID), logger.Err(err))
			errs = append(errs, fmt.Errorf("tenant %s: %w", rec.ID, err))
			continue
		}
		if m.migrationObserve != nil {
			m.migrationObserve(dbName, time.Since(start))
		}
		log.Info(op+" done", logger.Tenant(rec.ID), logger.Duration(time.Since(start)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("manager: %s finished with %d failure(s): %w", op, len(errs), errors.Join(errs...))
	}
	return nil
}

func (m *Manager) withTenantConn(ctx context.Context, rec registry.Record, fn func(db *sql.DB) error) error {
	password, err := m.store.ResolvePassword(rec)
	if err != nil {
		return err
	}
	d, err := connection.Tenant(&m.cfg.Base, &m.cfg.Tenants, rec.ID, password)
	if err != nil {
		return err
	}
	db, err := connection.Open(ctx, d, m.tenantPool())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
