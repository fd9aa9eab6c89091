// Package config loads and validates the process configuration for the
// tenant database factory: base connection settings, per-tenant defaults and
// the registry table layout. Values come from a YAML file and may be
// overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig bounds a database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// Password is a YAML scalar that distinguishes "absent" from "empty" and
// coerces non-string scalars (numbers, booleans) to their text form, since
// some drivers treat a missing password differently from an empty one.
type Password struct {
	value string
	set   bool
}

func (p *Password) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!null" {
		p.set = false
		return nil
	}
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: password must be a scalar, got %s", n.Tag)
	}
	p.value = n.Value
	p.set = true
	return nil
}

// Set reports whether a value was supplied at all.
func (p Password) Set() bool { return p.set }

func (p Password) String() string { return p.value }

// Ptr returns nil when the password was never supplied.
func (p Password) Ptr() *string {
	if !p.set {
		return nil
	}
	v := p.value
	return &v
}

// SetValue records an explicit password (used by env overrides and tests).
func (p *Password) SetValue(v string) {
	p.value = v
	p.set = true
}

// Connection is a full connection override. When present it wins over the
// discrete base fields, and defaults are applied only to fields left unset.
type Connection struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password Password `yaml:"password"`
	Database string   `yaml:"database"`
	Filename string   `yaml:"filename"`
	SSLMode  string   `yaml:"ssl_mode"`
}

// BaseConfig describes the shared base database holding the tenant registry.
// Immutable after Load.
type BaseConfig struct {
	// Client is the dialect client identifier (pg, mysql, sqlite3, mssql, ...).
	Client string `yaml:"client"`

	// Connection, when non-nil, is a full override of the discrete fields.
	Connection *Connection `yaml:"connection"`

	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password Password `yaml:"password"`
	Database string   `yaml:"database"`
	SSLMode  string   `yaml:"ssl_mode"`

	// AdminDatabase overrides the dialect's maintenance database name.
	AdminDatabase string `yaml:"admin_database"`

	Pool PoolConfig `yaml:"pool"`

	MigrationsDir string `yaml:"migrations_dir"`
	SeedsDir      string `yaml:"seeds_dir"`
}

// TenantConfig carries per-tenant defaults, shared by reference across all
// tenant operations. Immutable after Load.
type TenantConfig struct {
	// UserPrefix is prepended to the tenant id to form the dedicated login
	// name when a tenant password is used. Default "user_".
	UserPrefix string `yaml:"user_prefix"`

	// NameFunc derives the tenant database name from the tenant id. Settable
	// only from code; defaults to the identity function.
	NameFunc func(tenantID string) string `yaml:"-"`

	// SQLiteDir and SQLiteSuffix shape file-based tenant databases.
	SQLiteDir    string `yaml:"sqlite_dir"`
	SQLiteSuffix string `yaml:"sqlite_suffix"`

	SSLMode string      `yaml:"ssl_mode"`
	Pool    *PoolConfig `yaml:"pool"`

	MigrationsDir string `yaml:"migrations_dir"`
	SeedsDir      string `yaml:"seeds_dir"`
}

// DatabaseName resolves the database (or file base) name for a tenant id.
func (t *TenantConfig) DatabaseName(tenantID string) string {
	if t != nil && t.NameFunc != nil {
		return t.NameFunc(tenantID)
	}
	return tenantID
}

// RegistryOptions names the registry table and its columns. They must match
// whatever schema the bootstrap migration created; the runtime trusts this
// configuration and never introspects actual column names.
type RegistryOptions struct {
	Table                   string `yaml:"table"`
	IDColumn                string `yaml:"id_column"`
	PasswordColumn          string `yaml:"password_column"`
	EncryptedPasswordColumn string `yaml:"encrypted_password_column"`
	CreatedAtColumn         string `yaml:"created_at_column"`
	UpdatedAtColumn         string `yaml:"updated_at_column"`
}

// Config is the root of the YAML document.
type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Base     BaseConfig      `yaml:"base"`
	Tenants  TenantConfig    `yaml:"tenants"`
	Registry RegistryOptions `yaml:"registry"`
}

// Load reads, defaults, env-overrides and validates a config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Base.Pool.MaxOpenConns <= 0 {
		c.Base.Pool.MaxOpenConns = 10
	}
	if c.Base.Pool.MaxIdleConns <= 0 {
		c.Base.Pool.MaxIdleConns = 2
	}
	if c.Base.Pool.ConnMaxLifetime == "" {
		c.Base.Pool.ConnMaxLifetime = "30m"
	}
	if c.Tenants.UserPrefix == "" {
		c.Tenants.UserPrefix = "user_"
	}
	if c.Tenants.SQLiteSuffix == "" {
		c.Tenants.SQLiteSuffix = ".sqlite3"
	}

	r := &c.Registry
	if r.Table == "" {
		r.Table = "tenants"
	}
	if r.IDColumn == "" {
		r.IDColumn = "id"
	}
	if r.PasswordColumn == "" {
		r.PasswordColumn = "password"
	}
	if r.EncryptedPasswordColumn == "" {
		r.EncryptedPasswordColumn = "encrypted_password"
	}
	if r.CreatedAtColumn == "" {
		r.CreatedAtColumn = "created_at"
	}
	if r.UpdatedAtColumn == "" {
		r.UpdatedAtColumn = "updated_at"
	}
}

// Validate rejects malformed values that would otherwise surface as deferred
// runtime failures.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Base.Client) == "" {
		return fmt.Errorf("config: base.client is required")
	}
	if c.Base.Pool.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Base.Pool.ConnMaxLifetime); err != nil {
			return fmt.Errorf("config: base.pool.conn_max_lifetime: %w", err)
		}
	}
	if c.Tenants.Pool != nil && c.Tenants.Pool.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Tenants.Pool.ConnMaxLifetime); err != nil {
			return fmt.Errorf("config: tenants.pool.conn_max_lifetime: %w", err)
		}
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// applyEnvOverrides lets the environment win over the YAML file.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("TENORA_LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	if v, ok := getEnvStr("TENORA_CLIENT"); ok {
		c.Base.Client = v
	}
	if v, ok := getEnvStr("TENORA_HOST"); ok {
		c.Base.Host = v
	}
	if v, ok := getEnvInt("TENORA_PORT"); ok {
		c.Base.Port = v
	}
	if v, ok := getEnvStr("TENORA_USER"); ok {
		c.Base.User = v
	}
	if v, ok := getEnvStr("TENORA_PASSWORD"); ok {
		c.Base.Password.SetValue(v)
	}
	if v, ok := getEnvStr("TENORA_DATABASE"); ok {
		c.Base.Database = v
	}
	if v, ok := getEnvStr("TENORA_SSL_MODE"); ok {
		c.Base.SSLMode = v
	}
	if v, ok := getEnvStr("TENORA_ADMIN_DATABASE"); ok {
		c.Base.AdminDatabase = v
	}
	if v, ok := getEnvInt("TENORA_MAX_OPEN_CONNS"); ok {
		c.Base.Pool.MaxOpenConns = v
	}
	if v, ok := getEnvInt("TENORA_MAX_IDLE_CONNS"); ok {
		c.Base.Pool.MaxIdleConns = v
	}
	if v, ok := getEnvStr("TENORA_CONN_MAX_LIFETIME"); ok {
		c.Base.Pool.ConnMaxLifetime = v
	}
	if v, ok := getEnvStr("TENORA_MIGRATIONS_DIR"); ok {
		c.Base.MigrationsDir = v
	}
	if v, ok := getEnvStr("TENORA_SEEDS_DIR"); ok {
		c.Base.SeedsDir = v
	}

	if v, ok := getEnvStr("TENORA_TENANT_USER_PREFIX"); ok {
		c.Tenants.UserPrefix = v
	}
	if v, ok := getEnvStr("TENORA_TENANT_SQLITE_DIR"); ok {
		c.Tenants.SQLiteDir = v
	}
	if v, ok := getEnvStr("TENORA_TENANT_MIGRATIONS_DIR"); ok {
		c.Tenants.MigrationsDir = v
	}
	if v, ok := getEnvStr("TENORA_TENANT_SEEDS_DIR"); ok {
		c.Tenants.SeedsDir = v
	}

	if v, ok := getEnvStr("TENORA_REGISTRY_TABLE"); ok {
		c.Registry.Table = v
	}
}
