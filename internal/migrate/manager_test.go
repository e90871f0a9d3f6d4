package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"sql/0001_widgets.up.sql":   {Data: []byte("create table widgets (id int);")},
		"sql/0001_widgets.down.sql": {Data: []byte("drop table widgets;")},
		"sql/0002_gadgets.up.sql":   {Data: []byte("create table gadgets (id int);\ncreate index gadgets_idx on gadgets (id);")},
		"sql/0002_gadgets.down.sql": {Data: []byte("drop table gadgets;")},
		"seeds/0001_demo.sql":       {Data: []byte("insert into widgets values (1);")},
	}
}

func newMockRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewRunner(db, testFiles()), mock
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	r, mock := newMockRunner(t)

	mock.ExpectExec("create table if not exists schema_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_history").
		WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_widgets.up.sql"))

	// Only the second migration is pending.
	mock.ExpectBegin()
	mock.ExpectExec("create table gadgets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index gadgets_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_history").
		WithArgs("migration", "0002_gadgets.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := r.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
}

func TestDownRollsBackLast(t *testing.T) {
	r, mock := newMockRunner(t)

	mock.ExpectExec("create table if not exists schema_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_history").
		WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("0001_widgets.up.sql").
			AddRow("0002_gadgets.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec("drop table gadgets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_history").
		WithArgs("migration", "0002_gadgets.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	r, mock := newMockRunner(t)

	mock.ExpectExec("create table if not exists schema_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_history").
		WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if err := r.Down(context.Background()); err == nil {
		t.Fatal("expected error with no applied migrations")
	}
}

func TestSeedIdempotent(t *testing.T) {
	r, mock := newMockRunner(t)

	mock.ExpectExec("create table if not exists schema_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_history").
		WithArgs("seed").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_demo.sql"))

	// Already applied: nothing executes.
	if err := r.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b');\nupdate t set x = 1;")
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %q", len(stmts), stmts)
	}
	if stmts[0] != "insert into t values ('a;b');" {
		t.Errorf("first statement = %q", stmts[0])
	}
}
