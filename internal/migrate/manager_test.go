package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"

	"taskhub.org/internal/dbutil"
)

func TestSplitStatements(t *testing.T) {
	sql := "insert into roles values ('a;b');\ncreate table x (id text);\n  \nselect 1"
	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "insert into roles values ('a;b');" {
		t.Fatalf("quoted semicolon split: %q", stmts[0])
	}
}

func openSQLite(t *testing.T) *dbutil.DB {
	t.Helper()
	db, err := dbutil.Open(context.Background(), filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmbeddedSQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	mgr, err := NewEmbedded(db)
	if err != nil {
		t.Fatalf("NewEmbedded: %v", err)
	}

	pending, err := mgr.Pending(ctx)
	if err != nil || len(pending) != 1 || pending[0] != "0001_identity.up.sql" {
		t.Fatalf("Pending = %v, %v", pending, err)
	}
	applied, err := mgr.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected one applied migration, got %v", applied)
	}
	if again, err := mgr.Up(ctx); err != nil || len(again) != 0 {
		t.Fatalf("second Up = %v, %v", again, err)
	}

	if _, err := mgr.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if _, err := mgr.Seed(ctx); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	var roles int
	if err := db.QueryRowContext(ctx, `select count(*) from roles`).Scan(&roles); err != nil {
		t.Fatalf("count roles: %v", err)
	}
	if roles != 3 {
		t.Fatalf("expected 3 seeded roles, got %d", roles)
	}

	status, err := mgr.Status(ctx)
	if err != nil || len(status) != 1 {
		t.Fatalf("Status = %v, %v", status, err)
	}

	rolled, err := mgr.Down(ctx)
	if err != nil || rolled != "0001_identity.up.sql" {
		t.Fatalf("Down = %q, %v", rolled, err)
	}
	if _, err := db.ExecContext(ctx, `select 1 from users`); err == nil {
		t.Fatal("users table should be dropped")
	}
	if _, err := mgr.Down(ctx); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestPostgresBookkeepingUsesNumberedPlaceholders(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()

	files := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_init.down.sql": {Data: []byte("drop table a;")},
	}
	mgr := NewManager(dbutil.Wrap(sqlDB, dbutil.Postgres), files, nil)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_migrations\(name, applied_at\) values \(\$1, \$2\)`).
		WithArgs("0001_init.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()

	files := fstest.MapFS{
		"0001_bad.up.sql": {Data: []byte("create table a (id text); create tabel b;")},
	}
	mgr := NewManager(dbutil.Wrap(sqlDB, dbutil.Postgres), files, nil)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create tabel b").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	if _, err := mgr.Up(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
