package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/dialect"
)

func TestMakeMigration(t *testing.T) {
	dir := t.TempDir()
	paths, err := MakeMigration(dir, "Add Users Table!")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.True(t, strings.HasSuffix(paths[0], "_add_users_table.up.sql"), paths[0])
	assert.True(t, strings.HasSuffix(paths[1], "_add_users_table.down.sql"), paths[1])
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
}

func TestMakeMigration_EmptyName(t *testing.T) {
	_, err := MakeMigration(t.TempDir(), "  !!  ")
	assert.Error(t, err)
}

func TestMakeSeed(t *testing.T) {
	dir := t.TempDir()
	path, err := MakeSeed(dir, "demo data")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_demo_data.sql"), path)
}

func TestBootstrap_WritesPairOnce(t *testing.T) {
	dir := t.TempDir()
	opts := config.RegistryOptions{
		Table:                   "tenants",
		IDColumn:                "id",
		PasswordColumn:          "password",
		EncryptedPasswordColumn: "encrypted_password",
		CreatedAtColumn:         "created_at",
		UpdatedAtColumn:         "updated_at",
	}

	paths, err := Bootstrap(dir, dialect.Postgres, opts)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	b, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	up := string(b)
	assert.Contains(t, up, bootstrapMarker)
	assert.Contains(t, up, `CREATE TABLE "tenants"`)
	assert.Contains(t, up, `"encrypted_password" VARCHAR(1024) NULL`)
	assert.Contains(t, up, "TIMESTAMPTZ")

	// Second run detects the marker and writes nothing.
	again, err := Bootstrap(dir, dialect.Postgres, opts)
	require.NoError(t, err)
	assert.Nil(t, again)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBootstrap_MSSQLTypes(t *testing.T) {
	dir := t.TempDir()
	opts := config.RegistryOptions{
		Table: "tenants", IDColumn: "id", PasswordColumn: "password",
		EncryptedPasswordColumn: "encrypted_password",
		CreatedAtColumn:         "created_at", UpdatedAtColumn: "updated_at",
	}
	paths, err := Bootstrap(dir, dialect.MSSQL, opts)
	require.NoError(t, err)
	b, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), "CREATE TABLE [tenants]")
	assert.Contains(t, string(b), "SYSDATETIME()")
}

func TestRunSeeds_OrderAndErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02_b.sql"), []byte("INSERT INTO t VALUES (2)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01_a.sql"), []byte("INSERT INTO t VALUES (1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO t VALUES (1)").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO t VALUES (2)").WillReturnResult(sqlmock.NewResult(0, 1))

	ran, err := RunSeeds(context.Background(), db, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"01_a.sql", "02_b.sql"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSeeds_MissingDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = RunSeeds(context.Background(), db, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestDriverFor_Unsupported(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = driverFor(dialect.Other, db)
	assert.ErrorIs(t, err, ErrUnsupported)
}
