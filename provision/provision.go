// Package provision creates tenant databases end to end: database creation,
// optional dedicated login with grants, tenant migrations and seeds, and the
// registry row. Every connection opened for a run is closed before returning.
package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/connection"
	"github.com/ViktorVelikov13/tenora/dialect"
	"github.com/ViktorVelikov13/tenora/migrate"
	"github.com/ViktorVelikov13/tenora/observability/logger"
	"github.com/ViktorVelikov13/tenora/registry"
)

var (
	// ErrAlreadyExists means the tenant database is already present on a
	// networked dialect. The existing database and registry row are left
	// untouched.
	ErrAlreadyExists = errors.New("provision: tenant database already exists")

	// ErrUnsupportedDialect means the configured client cannot be provisioned
	// here; the caller must create the database externally and use the
	// factory only for connecting.
	ErrUnsupportedDialect = errors.New("provision: dialect unsupported")
)

// Outcome classifies a CreateTenant run so idempotent re-runs can treat
// "already exists" as benign without string-matching errors.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCreated
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// Engine orchestrates tenant provisioning against a caller-owned base handle.
type Engine struct {
	cfg    *config.Config
	family dialect.Family
	base   *sql.DB
	store  *registry.Store

	observe func(outcome string)
	evict   func(tenantID string)

	openAdmin  func(ctx context.Context) (*sql.DB, error)
	openTenant func(ctx context.Context, tenantID string, password *string) (*sql.DB, error)
}

type Option func(*Engine)

// WithObserver installs a per-run outcome callback, typically a metrics
// counter.
func WithObserver(fn func(outcome string)) Option {
	return func(e *Engine) { e.observe = fn }
}

// WithEvict installs a cache-eviction callback invoked after every run so a
// stale cached handle for the tenant never outlives provisioning.
func WithEvict(fn func(tenantID string)) Option {
	return func(e *Engine) { e.evict = fn }
}

func NewEngine(cfg *config.Config, base *sql.DB, store *registry.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		family: dialect.Classify(cfg.Base.Client),
		base:   base,
		store:  store,
	}
	e.openAdmin = func(ctx context.Context) (*sql.DB, error) {
		d, err := connection.Admin(&e.cfg.Base)
		if err != nil {
			return nil, err
		}
		return connection.Open(ctx, d, e.cfg.Base.Pool)
	}
	e.openTenant = func(ctx context.Context, tenantID string, password *string) (*sql.DB, error) {
		d, err := connection.Tenant(&e.cfg.Base, &e.cfg.Tenants, tenantID, password)
		if err != nil {
			return nil, err
		}
		return connection.Open(ctx, d, e.tenantPool())
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) tenantPool() config.PoolConfig {
	if e.cfg.Tenants.Pool != nil {
		return *e.cfg.Tenants.Pool
	}
	return e.cfg.Base.Pool
}

// CreateTenant provisions one tenant: registry precondition, database
// creation, optional dedicated login, tenant migrations and seeds, registry
// upsert. On networked dialects an existing database short-circuits with
// OutcomeAlreadyExists and ErrAlreadyExists; on SQLite an existing file is
// benign and the run continues.
func (e *Engine) CreateTenant(ctx context.Context, tenantID string, password *string) (outcome Outcome, err error) {
	log := logger.Named("provision").With(logger.Tenant(tenantID))
	start := time.Now()
	defer func() {
		if e.observe != nil {
			e.observe(outcome.String())
		}
		if e.evict != nil {
			e.evict(tenantID)
		}
	}()

	if e.family == dialect.Other {
		return OutcomeFailed, fmt.Errorf("%w: %q", ErrUnsupportedDialect, e.cfg.Base.Client)
	}
	if err := e.store.EnsureTable(ctx, e.base); err != nil {
		return OutcomeFailed, err
	}

	dbName := e.cfg.Tenants.DatabaseName(tenantID)

	if e.family == dialect.SQLite {
		existed, err := e.ensureSQLiteFile(tenantID)
		if err != nil {
			return OutcomeFailed, err
		}
		if existed {
			outcome = OutcomeAlreadyExists
		} else {
			outcome = OutcomeCreated
		}
	} else {
		admin, err := e.openAdmin(ctx)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("provision: open admin connection: %w", err)
		}
		defer admin.Close()

		exists, err := databaseExists(ctx, admin, e.family, dbName)
		if err != nil {
			return OutcomeFailed, err
		}
		if exists {
			return OutcomeAlreadyExists, fmt.Errorf("%w: %s", ErrAlreadyExists, dbName)
		}
		if err := createDatabase(ctx, admin, e.family, dbName); err != nil {
			return OutcomeFailed, fmt.Errorf("provision: create database %s: %w", dbName, err)
		}
		outcome = OutcomeCreated

		if password != nil {
			if err := e.createLogin(ctx, admin, tenantID, dbName, *password); err != nil {
				return OutcomeFailed, fmt.Errorf("provision: create login for %s: %w", tenantID, err)
			}
		}
	}

	tdb, err := e.openTenant(ctx, tenantID, password)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("provision: open tenant connection: %w", err)
	}
	defer tdb.Close()

	if dir := e.cfg.Tenants.MigrationsDir; dir != "" {
		if _, err := migrate.Up(e.family, tdb, dir, dbName); err != nil {
			return OutcomeFailed, fmt.Errorf("provision: tenant migrations: %w", err)
		}
	}
	if dir := e.cfg.Tenants.SeedsDir; dir != "" {
		if _, err := migrate.RunSeeds(ctx, tdb, dir); err != nil {
			return OutcomeFailed, fmt.Errorf("provision: tenant seeds: %w", err)
		}
	}

	if err := e.store.Upsert(ctx, e.base, tenantID, password); err != nil {
		return OutcomeFailed, fmt.Errorf("provision: registry upsert: %w", err)
	}

	log.Info("tenant provisioned",
		logger.Dialect(e.family.String()),
		logger.Database(dbName),
		logger.Duration(time.Since(start)),
	)
	return outcome, nil
}

// ensureSQLiteFile creates the tenant database file (and its directory) if
// absent. A file has no ownership or grants to collide with, so an existing
// one is reported but not an error.
func (e *Engine) ensureSQLiteFile(tenantID string) (existed bool, err error) {
	path := connection.SQLitePath(&e.cfg.Tenants, tenantID)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, f.Close()
}

func databaseExists(ctx context.Context, admin *sql.DB, f dialect.Family, name string) (bool, error) {
	var query string
	switch f {
	case dialect.Postgres:
		query = `SELECT 1 FROM pg_database WHERE datname = $1`
	case dialect.MySQL:
		query = `SELECT 1 FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?`
	case dialect.MSSQL:
		query = `SELECT 1 WHERE DB_ID(@p1) IS NOT NULL`
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedDialect, f)
	}
	var one int
	err := admin.QueryRowContext(ctx, query, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func createDatabase(ctx context.Context, admin *sql.DB, f dialect.Family, name string) error {
	var stmt string
	switch f {
	case dialect.Postgres, dialect.MySQL:
		stmt = "CREATE DATABASE " + dialect.QuoteIdent(f, name)
	case dialect.MSSQL:
		// Guarded at the SQL level so a concurrent creator does not fail us.
		stmt = fmt.Sprintf("IF DB_ID(N'%s') IS NULL CREATE DATABASE %s",
			dialect.EscapeLiteral(name), dialect.QuoteIdent(f, name))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDialect, f)
	}
	_, err := admin.ExecContext(ctx, stmt)
	return err
}

// createLogin creates the dedicated tenant login and grants it the tenant
// database. SQL Server needs a database-scoped user distinct from the
// server-scoped login, so its grant sequence runs against the tenant database
// itself.
func (e *Engine) createLogin(ctx context.Context, admin *sql.DB, tenantID, dbName, password string) error {
	user := e.cfg.Tenants.UserPrefix + tenantID

	switch e.family {
	case dialect.Postgres:
		stmts := []string{
			fmt.Sprintf("CREATE USER %s WITH PASSWORD '%s'",
				dialect.QuoteIdent(e.family, user), dialect.EscapeLiteral(password)),
			fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
				dialect.QuoteIdent(e.family, dbName), dialect.QuoteIdent(e.family, user)),
		}
		return execAll(ctx, admin, stmts)

	case dialect.MySQL:
		stmts := []string{
			fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s'",
				dialect.EscapeLiteral(user), dialect.EscapeLiteral(password)),
			fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO '%s'@'%%'",
				dialect.QuoteIdent(e.family, dbName), dialect.EscapeLiteral(user)),
			"FLUSH PRIVILEGES",
		}
		return execAll(ctx, admin, stmts)

	case dialect.MSSQL:
		login := fmt.Sprintf("IF SUSER_ID(N'%s') IS NULL CREATE LOGIN %s WITH PASSWORD = N'%s'",
			dialect.EscapeLiteral(user), dialect.QuoteIdent(e.family, user), dialect.EscapeLiteral(password))
		if _, err := admin.ExecContext(ctx, login); err != nil {
			return err
		}

		// The base credentials connect to the new database to create the
		// database user; the dedicated login cannot, it has no user yet.
		tdb, err := e.openTenant(ctx, tenantID, nil)
		if err != nil {
			return err
		}
		defer tdb.Close()
		stmts := []string{
			fmt.Sprintf("CREATE USER %s FOR LOGIN %s",
				dialect.QuoteIdent(e.family, user), dialect.QuoteIdent(e.family, user)),
			fmt.Sprintf("ALTER ROLE db_owner ADD MEMBER %s", dialect.QuoteIdent(e.family, user)),
		}
		return execAll(ctx, tdb, stmts)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDialect, e.family)
	}
}

func execAll(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// EnsureBaseDatabase creates the configured base database when missing, using
// the dialect's maintenance database. Unlike tenant provisioning this is
// idempotent on every dialect; it backs the migrate --create-database flag.
func EnsureBaseDatabase(ctx context.Context, cfg *config.Config) (created bool, err error) {
	f := dialect.Classify(cfg.Base.Client)

	if f == dialect.SQLite {
		d, err := connection.Base(&cfg.Base)
		if err != nil {
			return false, err
		}
		if dir := filepath.Dir(d.Filename); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return false, err
			}
		}
		fh, err := os.OpenFile(d.Filename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, fh.Close()
	}
	if f == dialect.Other {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedDialect, cfg.Base.Client)
	}

	d, err := connection.Base(&cfg.Base)
	if err != nil {
		return false, err
	}
	ad, err := connection.Admin(&cfg.Base)
	if err != nil {
		return false, err
	}
	admin, err := connection.Open(ctx, ad, cfg.Base.Pool)
	if err != nil {
		return false, err
	}
	defer admin.Close()

	exists, err := databaseExists(ctx, admin, f, d.Database)
	if err != nil || exists {
		return false, err
	}
	if err := createDatabase(ctx, admin, f, d.Database); err != nil {
		return false, err
	}
	return true, nil
}
