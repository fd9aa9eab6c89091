package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/dialect"
)

// bootstrapMarker tags the generated registry migration so repeated bootstrap
// runs can detect it and stay idempotent.
const bootstrapMarker = "-- tenora:registry-bootstrap"

func version() string { return time.Now().UTC().Format("20060102150405") }

func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.Trim(name, "_")
}

func writeNew(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("migrate: %s already exists", path)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// MakeMigration creates an empty up/down migration pair in dir and returns
// both paths, up first.
func MakeMigration(dir, name string) ([]string, error) {
	name = sanitizeName(name)
	if name == "" {
		return nil, fmt.Errorf("migrate: migration name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := version() + "_" + name
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	if err := writeNew(up, "-- "+name+"\n"); err != nil {
		return nil, err
	}
	if err := writeNew(down, "-- revert "+name+"\n"); err != nil {
		return nil, err
	}
	return []string{up, down}, nil
}

// MakeSeed creates an empty seed file in dir. Seeds run in lexicographic
// order, so the name is prefixed with a timestamp too.
func MakeSeed(dir, name string) (string, error) {
	name = sanitizeName(name)
	if name == "" {
		return "", fmt.Errorf("migrate: seed name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, version()+"_"+name+".sql")
	if err := writeNew(path, "-- seed "+name+"\n"); err != nil {
		return "", err
	}
	return path, nil
}

func bootstrapColumns(f dialect.Family, opts config.RegistryOptions) string {
	q := func(s string) string { return dialect.QuoteIdent(f, s) }
	var ts, tsDefault string
	switch f {
	case dialect.Postgres:
		ts, tsDefault = "TIMESTAMPTZ", "CURRENT_TIMESTAMP"
	case dialect.MySQL:
		ts, tsDefault = "TIMESTAMP", "CURRENT_TIMESTAMP"
	case dialect.MSSQL:
		ts, tsDefault = "DATETIME2", "SYSDATETIME()"
	default:
		ts, tsDefault = "TIMESTAMP", "CURRENT_TIMESTAMP"
	}
	return fmt.Sprintf(
		"    %s VARCHAR(255) PRIMARY KEY,\n"+
			"    %s VARCHAR(255) NULL,\n"+
			"    %s VARCHAR(1024) NULL,\n"+
			"    %s %s NOT NULL DEFAULT %s,\n"+
			"    %s %s NOT NULL DEFAULT %s\n",
		q(opts.IDColumn),
		q(opts.PasswordColumn),
		q(opts.EncryptedPasswordColumn),
		q(opts.CreatedAtColumn), ts, tsDefault,
		q(opts.UpdatedAtColumn), ts, tsDefault,
	)
}

// Bootstrap writes the registry-table migration pair into dir unless a
// migration carrying the bootstrap marker is already there. It returns the
// created paths, or (nil, nil) when bootstrap already happened.
func Bootstrap(dir string, f dialect.Family, opts config.RegistryOptions) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if strings.Contains(string(b), bootstrapMarker) {
			return nil, nil
		}
	}

	table := dialect.QuoteIdent(f, opts.Table)
	upSQL := fmt.Sprintf("%s\nCREATE TABLE %s (\n%s);\n",
		bootstrapMarker, table, bootstrapColumns(f, opts))
	downSQL := fmt.Sprintf("%s\nDROP TABLE %s;\n", bootstrapMarker, table)

	base := version() + "_create_" + sanitizeName(opts.Table)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	if err := writeNew(up, upSQL); err != nil {
		return nil, err
	}
	if err := writeNew(down, downSQL); err != nil {
		return nil, err
	}
	return []string{up, down}, nil
}
