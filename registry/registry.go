// Package registry persists tenant records (id plus optionally encrypted
// credentials) in the base database. The table and column names come from
// configuration and are trusted as-is; the runtime never introspects or
// auto-creates the schema.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/dialect"
	"github.com/ViktorVelikov13/tenora/observability/logger"
	"github.com/ViktorVelikov13/tenora/security/secretbox"
)

// ErrRegistryMissing means the registry table is absent from the base
// database. The remediation is running the base migrations (see the
// bootstrap command); the table is never created at runtime.
var ErrRegistryMissing = errors.New("registry: table missing, run the base migrations first")

// Record is one tenant row. Exactly one of Password and EncryptedPassword is
// meaningfully populated depending on whether an encryption hook is active.
type Record struct {
	ID                string
	Password          *string
	EncryptedPassword *string
}

// Hooks are the pluggable credential encrypt/decrypt functions. Unset hooks
// fall back to the env-derived secretbox implementation when its key is
// available, and to plaintext storage otherwise.
type Hooks struct {
	Encrypt func(plaintext string) (string, error)
	Decrypt func(ciphertext string) (string, error)
}

// Store executes registry statements against a caller-supplied handle.
type Store struct {
	family dialect.Family
	opts   config.RegistryOptions
	hooks  Hooks
}

func New(family dialect.Family, opts config.RegistryOptions, hooks Hooks) *Store {
	return &Store{family: family, opts: opts, hooks: hooks}
}

func (s *Store) encryptHook() func(string) (string, error) {
	if s.hooks.Encrypt != nil {
		return s.hooks.Encrypt
	}
	if secretbox.Ready() {
		return secretbox.Encrypt
	}
	return nil
}

func (s *Store) decryptHook() func(string) (string, error) {
	if s.hooks.Decrypt != nil {
		return s.hooks.Decrypt
	}
	if secretbox.Ready() {
		return secretbox.Decrypt
	}
	return nil
}

// placeholder renderiza el bind-parameter del dialecto (1-based).
func placeholder(f dialect.Family, n int) string {
	switch f {
	case dialect.Postgres:
		return "$" + strconv.Itoa(n)
	case dialect.MSSQL:
		return "@p" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// EnsureTable verifies the configured table exists, failing with
// ErrRegistryMissing otherwise. Both provisioning and enumeration require
// this precondition.
func (s *Store) EnsureTable(ctx context.Context, db *sql.DB) error {
	var (
		query string
		arg   = s.opts.Table
	)
	switch s.family {
	case dialect.Postgres:
		query = `SELECT 1 FROM information_schema.tables WHERE table_name = $1`
	case dialect.MySQL:
		query = `SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
	case dialect.SQLite:
		query = `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`
	case dialect.MSSQL:
		query = `SELECT 1 FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1`
	default:
		return fmt.Errorf("registry: existence check unsupported for dialect %q", s.family)
	}

	var one int
	err := db.QueryRowContext(ctx, query, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRegistryMissing
	}
	return err
}

// List returns all tenant records in storage order.
func (s *Store) List(ctx context.Context, db *sql.DB) ([]Record, error) {
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s",
		dialect.QuoteIdent(s.family, s.opts.IDColumn),
		dialect.QuoteIdent(s.family, s.opts.PasswordColumn),
		dialect.QuoteIdent(s.family, s.opts.EncryptedPasswordColumn),
		dialect.QuoteIdent(s.family, s.opts.Table),
	)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			pw, encw sql.NullString
		)
		if err := rows.Scan(&rec.ID, &pw, &encw); err != nil {
			return nil, err
		}
		if pw.Valid {
			rec.Password = &pw.String
		}
		if encw.Valid {
			rec.EncryptedPassword = &encw.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Lookup returns a single tenant record, or nil when absent.
func (s *Store) Lookup(ctx context.Context, db *sql.DB, tenantID string) (*Record, error) {
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = %s",
		dialect.QuoteIdent(s.family, s.opts.IDColumn),
		dialect.QuoteIdent(s.family, s.opts.PasswordColumn),
		dialect.QuoteIdent(s.family, s.opts.EncryptedPasswordColumn),
		dialect.QuoteIdent(s.family, s.opts.Table),
		dialect.QuoteIdent(s.family, s.opts.IDColumn),
		placeholder(s.family, 1),
	)
	var (
		rec      Record
		pw, encw sql.NullString
	)
	err := db.QueryRowContext(ctx, query, tenantID).Scan(&rec.ID, &pw, &encw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pw.Valid {
		rec.Password = &pw.String
	}
	if encw.Valid {
		rec.EncryptedPassword = &encw.String
	}
	return &rec, nil
}

// Upsert inserts or replaces the row for tenantID in a single statement.
// With an encryption hook active only the encrypted column is written and
// the plaintext column stays NULL; the invariant holds in both directions.
func (s *Store) Upsert(ctx context.Context, db *sql.DB, tenantID string, password *string) error {
	var plain, encrypted any
	if password != nil {
		if enc := s.encryptHook(); enc != nil {
			ct, err := enc(*password)
			if err != nil {
				return fmt.Errorf("registry: encrypt credential: %w", err)
			}
			encrypted = ct
		} else {
			logger.Named("registry").Warn("no encryption key configured, storing tenant credential in plaintext",
				logger.Tenant(tenantID))
			plain = *password
		}
	}

	id := dialect.QuoteIdent(s.family, s.opts.IDColumn)
	pw := dialect.QuoteIdent(s.family, s.opts.PasswordColumn)
	enc := dialect.QuoteIdent(s.family, s.opts.EncryptedPasswordColumn)
	updated := dialect.QuoteIdent(s.family, s.opts.UpdatedAtColumn)
	table := dialect.QuoteIdent(s.family, s.opts.Table)

	var query string
	switch s.family {
	case dialect.Postgres:
		query = fmt.Sprintf(
			"INSERT INTO %s (%s, %s, %s) VALUES ($1, $2, $3) ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s, %s = EXCLUDED.%s, %s = CURRENT_TIMESTAMP",
			table, id, pw, enc, id, pw, pw, enc, enc, updated)
	case dialect.MySQL:
		query = fmt.Sprintf(
			"INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE %s = VALUES(%s), %s = VALUES(%s), %s = CURRENT_TIMESTAMP",
			table, id, pw, enc, pw, pw, enc, enc, updated)
	case dialect.SQLite:
		query = fmt.Sprintf(
			"INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?) ON CONFLICT (%s) DO UPDATE SET %s = excluded.%s, %s = excluded.%s, %s = CURRENT_TIMESTAMP",
			table, id, pw, enc, id, pw, pw, enc, enc, updated)
	case dialect.MSSQL:
		query = fmt.Sprintf(
			"MERGE %s WITH (HOLDLOCK) AS t USING (SELECT @p1 AS %s) AS src ON t.%s = src.%s "+
				"WHEN MATCHED THEN UPDATE SET %s = @p2, %s = @p3, %s = SYSDATETIME() "+
				"WHEN NOT MATCHED THEN INSERT (%s, %s, %s) VALUES (@p1, @p2, @p3);",
			table, id, id, id, pw, enc, updated, id, pw, enc)
	default:
		return fmt.Errorf("registry: upsert unsupported for dialect %q", s.family)
	}

	_, err := db.ExecContext(ctx, query, tenantID, plain, encrypted)
	return err
}

// ResolvePassword recovers the usable credential for a record: an explicit
// plaintext wins, an encrypted value goes through the decrypt hook, and when
// neither yields a value the tenant connects with the base/shared
// credentials. An encrypted credential without any hook or key falls back
// too, with a warning; only a hook that exists and fails is an error.
func (s *Store) ResolvePassword(rec Record) (*string, error) {
	if rec.Password != nil && *rec.Password != "" {
		return rec.Password, nil
	}
	if rec.EncryptedPassword != nil && *rec.EncryptedPassword != "" {
		dec := s.decryptHook()
		if dec == nil {
			logger.Named("registry").Warn("encrypted credential but no decrypt hook or key configured, using shared credentials",
				logger.Tenant(rec.ID))
			return nil, nil
		}
		pt, err := dec(*rec.EncryptedPassword)
		if err != nil {
			return nil, fmt.Errorf("registry: decrypt credential for tenant %s: %w", rec.ID, err)
		}
		return &pt, nil
	}
	return nil, nil
}
