package registry

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ViktorVelikov13/tenora/config"
	"github.com/ViktorVelikov13/tenora/dialect"
	"github.com/ViktorVelikov13/tenora/security/secretbox"
)

func defaultOptions() config.RegistryOptions {
	return config.RegistryOptions{
		Table:                   "tenants",
		IDColumn:                "id",
		PasswordColumn:          "password",
		EncryptedPasswordColumn: "encrypted_password",
		CreatedAtColumn:         "created_at",
		UpdatedAtColumn:         "updated_at",
	}
}

type mockDB struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
}

func newMock(t *testing.T) (*Store, *mockDB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(dialect.Postgres, defaultOptions(), Hooks{}), &mockDB{db: db, mock: mock}
}

func TestEnsureTable_Present(t *testing.T) {
	s, m := newMock(t)
	m.mock.ExpectQuery(`SELECT 1 FROM information_schema.tables WHERE table_name = $1`).
		WithArgs("tenants").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	if err := s.EnsureTable(context.Background(), m.db); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := m.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEnsureTable_Missing(t *testing.T) {
	s, m := newMock(t)
	m.mock.ExpectQuery(`SELECT 1 FROM information_schema.tables WHERE table_name = $1`).
		WithArgs("tenants").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	err := s.EnsureTable(context.Background(), m.db)
	if !errors.Is(err, ErrRegistryMissing) {
		t.Fatalf("want ErrRegistryMissing, got %v", err)
	}
}

func TestUpsert_PlaintextWithoutHook(t *testing.T) {
	s, m := newMock(t)
	m.mock.ExpectExec(`INSERT INTO "tenants" ("id", "password", "encrypted_password") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "password" = EXCLUDED."password", "encrypted_password" = EXCLUDED."encrypted_password", "updated_at" = CURRENT_TIMESTAMP`).
		WithArgs("acme", "secret", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	pw := "secret"
	if err := s.Upsert(context.Background(), m.db, "acme", &pw); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := m.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsert_EncryptHookWritesOnlyCiphertext(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := New(dialect.Postgres, defaultOptions(), Hooks{
		Encrypt: func(pt string) (string, error) { return "enc(" + pt + ")", nil },
	})
	mock.ExpectExec(`INSERT INTO "tenants" ("id", "password", "encrypted_password") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "password" = EXCLUDED."password", "encrypted_password" = EXCLUDED."encrypted_password", "updated_at" = CURRENT_TIMESTAMP`).
		WithArgs("acme", nil, "enc(secret)").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pw := "secret"
	if err := s.Upsert(context.Background(), db, "acme", &pw); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestList(t *testing.T) {
	s, m := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "password", "encrypted_password"}).
		AddRow("acme", "secret", nil).
		AddRow("globex", nil, "ciphertext")
	m.mock.ExpectQuery(`SELECT "id", "password", "encrypted_password" FROM "tenants"`).
		WillReturnRows(rows)

	recs, err := s.List(context.Background(), m.db)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d", len(recs))
	}
	if recs[0].ID != "acme" || recs[0].Password == nil || *recs[0].Password != "secret" {
		t.Errorf("first record = %+v", recs[0])
	}
	if recs[1].EncryptedPassword == nil || *recs[1].EncryptedPassword != "ciphertext" {
		t.Errorf("second record = %+v", recs[1])
	}
}

func TestLookup_Absent(t *testing.T) {
	s, m := newMock(t)
	m.mock.ExpectQuery(`SELECT "id", "password", "encrypted_password" FROM "tenants" WHERE "id" = $1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password", "encrypted_password"}))

	rec, err := s.Lookup(context.Background(), m.db, "missing")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec != nil {
		t.Fatalf("want nil record, got %+v", rec)
	}
}

func TestResolvePassword(t *testing.T) {
	s := New(dialect.Postgres, defaultOptions(), Hooks{
		Decrypt: func(ct string) (string, error) { return "dec(" + ct + ")", nil },
	})

	plain := "clear"
	got, err := s.ResolvePassword(Record{ID: "a", Password: &plain})
	if err != nil || got == nil || *got != "clear" {
		t.Fatalf("plaintext preference: %v, %v", got, err)
	}

	ct := "blob"
	got, err = s.ResolvePassword(Record{ID: "b", EncryptedPassword: &ct})
	if err != nil || got == nil || *got != "dec(blob)" {
		t.Fatalf("decrypt hook: %v, %v", got, err)
	}

	got, err = s.ResolvePassword(Record{ID: "c"})
	if err != nil || got != nil {
		t.Fatalf("empty record should resolve to nil: %v, %v", got, err)
	}
}

func TestResolvePassword_NoHookFallsBackToShared(t *testing.T) {
	t.Setenv(secretbox.EnvKey, "")
	secretbox.UnsafeResetForTests()
	t.Cleanup(secretbox.UnsafeResetForTests)

	s := New(dialect.Postgres, defaultOptions(), Hooks{})
	ct := "blob"
	got, err := s.ResolvePassword(Record{ID: "acme", EncryptedPassword: &ct})
	if err != nil {
		t.Fatalf("want shared-credential fallback, got error: %v", err)
	}
	if got != nil {
		t.Fatalf("want nil password, got %q", *got)
	}
}

func TestResolvePassword_FailingHookErrors(t *testing.T) {
	s := New(dialect.Postgres, defaultOptions(), Hooks{
		Decrypt: func(string) (string, error) { return "", errors.New("bad key") },
	})
	ct := "blob"
	if _, err := s.ResolvePassword(Record{ID: "acme", EncryptedPassword: &ct}); err == nil {
		t.Fatal("want error when the configured hook fails")
	}
}
