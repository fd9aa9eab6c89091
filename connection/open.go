package connection

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/dialect"
	"github.com/ViktorVelikov13/tenora/observability/logger"
)

// Open opens a database/sql handle for a descriptor and applies pool bounds.
// The handle is pinged so connection problems surface here rather than on
// the first query.
func Open(ctx context.Context, d Descriptor, pool config.PoolConfig) (*sql.DB, error) {
	driver, err := dialect.DriverName(d.Family)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(d)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime != "" {
		if lifetime, perr := time.ParseDuration(pool.ConnMaxLifetime); perr == nil {
			db.SetConnMaxLifetime(lifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Named("connection").Debug("handle ready",
		logger.Dialect(d.Family.String()),
		logger.Database(d.Database),
	)
	return db, nil
}
