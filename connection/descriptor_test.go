package connection

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/dialect"
)

func baseCfg(client string) *config.BaseConfig {
	b := &config.BaseConfig{
		Client:   client,
		Host:     "db.internal",
		User:     "admin",
		Database: "app",
	}
	b.Password.SetValue("hunter2")
	return b
}

func TestBase_DiscreteFields(t *testing.T) {
	d, err := Base(baseCfg("pg"))
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	if d.Family != dialect.Postgres || d.Host != "db.internal" || d.Database != "app" {
		t.Fatalf("descriptor = %+v", d)
	}
	if d.Port != 5432 {
		t.Errorf("default port = %d", d.Port)
	}
	if d.Password == nil || *d.Password != "hunter2" {
		t.Error("password not carried")
	}
}

func TestBase_MissingFields(t *testing.T) {
	cfg := &config.BaseConfig{Client: "pg", Host: "db"}
	_, err := Base(cfg)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("want ErrConfig, got %v", err)
	}
}

func TestBase_OverrideWins(t *testing.T) {
	cfg := baseCfg("mysql")
	cfg.Connection = &config.Connection{
		Host:     "override-host",
		Database: "override-db",
	}
	d, err := Base(cfg)
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	if d.Host != "override-host" || d.Database != "override-db" {
		t.Fatalf("override lost: %+v", d)
	}
	// Fields the override left unset fall back to base values.
	if d.User != "admin" {
		t.Errorf("user default not applied: %q", d.User)
	}
	if d.Port != 3306 {
		t.Errorf("port default not applied: %d", d.Port)
	}
	if d.Password == nil || *d.Password != "hunter2" {
		t.Error("password default not applied")
	}
}

func TestBase_SQLiteFilename(t *testing.T) {
	cfg := &config.BaseConfig{Client: "sqlite3", Database: "base.sqlite3"}
	d, err := Base(cfg)
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	if d.Filename != "base.sqlite3" {
		t.Errorf("filename = %q", d.Filename)
	}
	if d.Database != "" {
		t.Errorf("database field should be cleared, got %q", d.Database)
	}
}

func TestAdmin_MaintenanceDatabase(t *testing.T) {
	d, err := Admin(baseCfg("pg"))
	if err != nil {
		t.Fatalf("Admin: %v", err)
	}
	if d.Database != "postgres" {
		t.Errorf("admin database = %q", d.Database)
	}

	cfg := baseCfg("mssql")
	cfg.AdminDatabase = "model"
	d, err = Admin(cfg)
	if err != nil {
		t.Fatalf("Admin: %v", err)
	}
	if d.Database != "model" {
		t.Errorf("admin override = %q", d.Database)
	}
}

func TestTenant_DedicatedUser(t *testing.T) {
	tenants := &config.TenantConfig{UserPrefix: "user_"}
	pw := "tenant-secret"
	d, err := Tenant(baseCfg("pg"), tenants, "acme", &pw)
	if err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if d.User != "user_acme" {
		t.Errorf("user = %q", d.User)
	}
	if d.Password == nil || *d.Password != "tenant-secret" {
		t.Error("tenant password not used")
	}
	if d.Database != "acme" {
		t.Errorf("database = %q", d.Database)
	}
}

func TestTenant_SharedCredentialsFallback(t *testing.T) {
	tenants := &config.TenantConfig{UserPrefix: "user_"}
	d, err := Tenant(baseCfg("pg"), tenants, "acme", nil)
	if err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if d.User != "admin" {
		t.Errorf("user = %q, want base user", d.User)
	}
	if d.Password == nil || *d.Password != "hunter2" {
		t.Error("base password not used")
	}
}

func TestTenant_SQLite(t *testing.T) {
	cfg := &config.BaseConfig{Client: "sqlite3", Database: "base.sqlite3"}
	tenants := &config.TenantConfig{SQLiteDir: "/var/lib/tenora", SQLiteSuffix: ".sqlite3"}
	d, err := Tenant(cfg, tenants, "foo", nil)
	if err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if !strings.HasSuffix(d.Filename, filepath.Join("tenora", "foo.sqlite3")) {
		t.Errorf("filename = %q", d.Filename)
	}
	if d.Database != "" {
		t.Errorf("database should be empty, got %q", d.Database)
	}
}

func TestTenant_NameFunc(t *testing.T) {
	tenants := &config.TenantConfig{
		UserPrefix: "user_",
		NameFunc:   func(id string) string { return "tenant_" + id },
	}
	d, err := Tenant(baseCfg("pg"), tenants, "acme", nil)
	if err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if d.Database != "tenant_acme" {
		t.Errorf("database = %q", d.Database)
	}
}
