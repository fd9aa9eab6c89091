// Package connection turns tenant configuration into dialect-correct
// connection descriptors and open database/sql handles.
package connection

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/dialect"
)

// ErrConfig marks configuration errors: missing required connection fields
// are rejected at build time, not deferred to the first query.
var ErrConfig = errors.New("connection: invalid configuration")

// Descriptor is a dialect-correct connection description. Networked dialects
// use Host/Port/User/Password/Database; SQLite uses Filename and leaves
// Database empty so no conflicting driver option is emitted. A nil Password
// means "no password field at all", which some drivers treat differently
// from an empty string.
type Descriptor struct {
	Family   dialect.Family
	Host     string
	Port     int
	User     string
	Password *string
	Database string
	Filename string
	SSLMode  string
}

func defaultPort(f dialect.Family) int {
	switch f {
	case dialect.Postgres:
		return 5432
	case dialect.MySQL:
		return 3306
	case dialect.MSSQL:
		return 1433
	default:
		return 0
	}
}

// build assembles a descriptor for targetDB from the base configuration.
// When a full connection override exists it is cloned and base-level defaults
// fill only the fields the override left unset; caller-supplied values are
// never overwritten.
func build(base *config.BaseConfig, targetDB string) (Descriptor, error) {
	f := dialect.Classify(base.Client)

	d := Descriptor{Family: f}
	if c := base.Connection; c != nil {
		d.Host = c.Host
		d.Port = c.Port
		d.User = c.User
		d.Password = c.Password.Ptr()
		d.Database = c.Database
		d.Filename = c.Filename
		d.SSLMode = c.SSLMode

		if d.Host == "" {
			d.Host = base.Host
		}
		if d.Port == 0 {
			d.Port = base.Port
		}
		if d.User == "" {
			d.User = base.User
		}
		if d.Password == nil {
			d.Password = base.Password.Ptr()
		}
		if d.SSLMode == "" {
			d.SSLMode = base.SSLMode
		}
	} else {
		d.Host = base.Host
		d.Port = base.Port
		d.User = base.User
		d.Password = base.Password.Ptr()
		d.Database = base.Database
		d.SSLMode = base.SSLMode
	}

	if targetDB != "" {
		d.Database = targetDB
	}
	if d.Port == 0 {
		d.Port = defaultPort(f)
	}

	if f == dialect.SQLite {
		// A "database" is a filesystem path here. The target becomes the
		// filename and the database field is dropped.
		if d.Database != "" {
			d.Filename = d.Database
			d.Database = ""
		}
		if d.Filename == "" {
			return Descriptor{}, fmt.Errorf("%w: sqlite requires a database file path", ErrConfig)
		}
		return d, nil
	}

	if d.Host == "" {
		return Descriptor{}, fmt.Errorf("%w: host is required for dialect %s", ErrConfig, f)
	}
	if d.User == "" {
		return Descriptor{}, fmt.Errorf("%w: user is required for dialect %s", ErrConfig, f)
	}
	if d.Database == "" {
		return Descriptor{}, fmt.Errorf("%w: database is required for dialect %s", ErrConfig, f)
	}
	return d, nil
}

// Base builds the descriptor for the base database itself.
func Base(base *config.BaseConfig) (Descriptor, error) {
	return build(base, "")
}

// Admin builds the descriptor for the dialect's maintenance database, used
// to issue CREATE DATABASE / CREATE USER statements.
func Admin(base *config.BaseConfig) (Descriptor, error) {
	f := dialect.Classify(base.Client)
	if f == dialect.SQLite {
		// No admin database for file-based dialects.
		return build(base, "")
	}
	return build(base, dialect.AdminDatabase(f, base.AdminDatabase))
}

// Tenant builds the descriptor for a tenant database. When a tenant password
// is known the dedicated login (user prefix + tenant id) connects; otherwise
// the tenant shares the base credentials and isolation is by database only.
func Tenant(base *config.BaseConfig, tenants *config.TenantConfig, tenantID string, password *string) (Descriptor, error) {
	f := dialect.Classify(base.Client)
	name := tenants.DatabaseName(tenantID)

	if f == dialect.SQLite {
		file := name + tenants.SQLiteSuffix
		if tenants.SQLiteDir != "" {
			file = filepath.Join(tenants.SQLiteDir, file)
		}
		return build(base, file)
	}

	d, err := build(base, name)
	if err != nil {
		return Descriptor{}, err
	}
	if password != nil {
		d.User = tenants.UserPrefix + tenantID
		d.Password = password
	}
	if tenants.SSLMode != "" {
		d.SSLMode = tenants.SSLMode
	}
	return d, nil
}

// SQLitePath resolves the file path a tenant database lives at.
func SQLitePath(tenants *config.TenantConfig, tenantID string) string {
	file := tenants.DatabaseName(tenantID) + tenants.SQLiteSuffix
	if tenants.SQLiteDir != "" {
		file = filepath.Join(tenants.SQLiteDir, file)
	}
	return file
}
