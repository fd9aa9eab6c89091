// Package dialect classifies database client identifiers into SQL dialect
// families and centralizes the per-family rules (identifier quoting, admin
// database names, database/sql driver names) that the rest of the module
// depends on.
package dialect

import (
	"fmt"
	"strings"
)

// Family is a closed set of SQL engine families sharing connection shape and
// administrative statement syntax.
type Family int

const (
	// Other is any client identifier outside the alias table. Connections are
	// still built for it, but provisioning operations refuse it.
	Other Family = iota
	Postgres
	MySQL
	SQLite
	MSSQL
)

func (f Family) String() string {
	switch f {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	case MSSQL:
		return "mssql"
	default:
		return "other"
	}
}

// aliases maps every documented client identifier to its family.
var aliases = map[string]Family{
	"pg":             Postgres,
	"postgres":       Postgres,
	"postgresql":     Postgres,
	"pgx":            Postgres,
	"mysql":          MySQL,
	"mysql2":         MySQL,
	"mariadb":        MySQL,
	"sqlite":         SQLite,
	"sqlite3":        SQLite,
	"better-sqlite3": SQLite,
	"mssql":          MSSQL,
	"sqlserver":      MSSQL,
}

// Classify maps a client identifier to its dialect family. It is total:
// unrecognized identifiers return Other, never an error.
func Classify(clientID string) Family {
	if f, ok := aliases[strings.ToLower(strings.TrimSpace(clientID))]; ok {
		return f
	}
	return Other
}

// DriverName returns the database/sql driver registration name for a family.
func DriverName(f Family) (string, error) {
	switch f {
	case Postgres:
		return "pgx", nil
	case MySQL:
		return "mysql", nil
	case SQLite:
		return "sqlite3", nil
	case MSSQL:
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("dialect: no database/sql driver for family %q", f)
	}
}

// AdminDatabase returns the maintenance database used for CREATE DATABASE /
// CREATE USER statements. An explicit override wins; SQLite has none.
func AdminDatabase(f Family, override string) string {
	if override != "" {
		return override
	}
	switch f {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case MSSQL:
		return "master"
	default:
		return ""
	}
}

// QuoteIdent quotes an identifier for interpolation into administrative SQL,
// doubling any embedded quote characters of the family's convention. Tenant
// identifiers come from application code, not untrusted input, but must still
// not corrupt SQL on special characters.
func QuoteIdent(f Family, ident string) string {
	switch f {
	case MySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case MSSQL:
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	default:
		// Postgres, SQLite, and anything else use double quotes.
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// EscapeLiteral escapes a string literal for raw administrative statements
// where parameter binding is unavailable (CREATE USER ... IDENTIFIED BY).
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
