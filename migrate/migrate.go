// Package migrate delegates migration execution to golang-migrate and adds
// the pieces it lacks: an ordered seed-file runner and the template
// generators for migration, seed, and registry-bootstrap files.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	migratemssql "github.com/golang-migrate/migrate/v4/database/sqlserver"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ViktorVelikov13/tenora/dialect"
	"github.com/ViktorVelikov13/tenora/observability/logger"
)

// ErrUnsupported means the dialect has no migration driver (the "other"
// family); migrations must be run externally for such clients.
var ErrUnsupported = errors.New("migrate: dialect unsupported")

func driverFor(f dialect.Family, db *sql.DB) (database.Driver, error) {
	switch f {
	case dialect.Postgres:
		return migratepg.WithInstance(db, &migratepg.Config{})
	case dialect.MySQL:
		return migratemysql.WithInstance(db, &migratemysql.Config{})
	case dialect.SQLite:
		return migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case dialect.MSSQL:
		return migratemssql.WithInstance(db, &migratemssql.Config{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, f)
	}
}

func newMigrator(f dialect.Family, db *sql.DB, dir, dbName string) (*gomigrate.Migrate, error) {
	drv, err := driverFor(f, db)
	if err != nil {
		return nil, err
	}
	src := "file://" + filepath.ToSlash(dir)
	// The handle is caller-owned; the migrator is deliberately not closed so
	// shared pools survive a migration run.
	return gomigrate.NewWithDatabaseInstance(src, dbName, drv)
}

// Up applies all pending migrations from dir. changed is false when the
// database was already up to date.
func Up(f dialect.Family, db *sql.DB, dir, dbName string) (changed bool, err error) {
	m, err := newMigrator(f, db, dir, dbName)
	if err != nil {
		return false, err
	}
	start := time.Now()
	err = m.Up()
	if errors.Is(err, gomigrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logger.Named("migrate").Info("migrations applied",
		logger.Database(dbName), logger.Duration(time.Since(start)))
	return true, nil
}

// Rollback reverts steps migrations (all of them when steps <= 0). changed
// is false when there was nothing to roll back.
func Rollback(f dialect.Family, db *sql.DB, dir, dbName string, steps int) (changed bool, err error) {
	m, err := newMigrator(f, db, dir, dbName)
	if err != nil {
		return false, err
	}
	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if errors.Is(err, gomigrate.ErrNoChange) || errors.Is(err, gomigrate.ErrNilVersion) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RunSeeds executes every *.sql file in dir in lexicographic order against
// db and returns the file names it ran. A missing directory is an error; an
// empty one is not.
func RunSeeds(ctx context.Context, db *sql.DB, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var ran []string
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return ran, err
		}
		if _, err := db.ExecContext(ctx, string(b)); err != nil {
			return ran, fmt.Errorf("seed %s: %w", name, err)
		}
		ran = append(ran, name)
	}
	return ran, nil
}
