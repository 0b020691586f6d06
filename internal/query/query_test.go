package query

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestExecuteReturnsColumnsAndRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	createdAt := time.Date(2024, 12, 4, 10, 30, 0, 0, time.UTC)
	statement := "SELECT id, name, created_at FROM dc_ai_test.customers"
	mock.ExpectQuery(statement).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow(int64(1), []byte("Ada"), createdAt).
			AddRow(int64(2), "Grace", nil))

	result, err := Executor{}.Execute(context.Background(), db, statement)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 3 || result.Columns[1] != "name" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	for i, row := range result.Rows {
		if len(row) != len(result.Columns) {
			t.Fatalf("row %d has %d values, want %d", i, len(row), len(result.Columns))
		}
	}
	if result.Rows[0][1] != "Ada" {
		t.Fatalf("bytes not normalised: %#v", result.Rows[0][1])
	}
	if result.Rows[0][2] != "2024-12-04T10:30:00Z" {
		t.Fatalf("time not normalised: %#v", result.Rows[0][2])
	}
	if result.Rows[1][2] != nil {
		t.Fatalf("NULL = %#v", result.Rows[1][2])
	}
	if result.Truncated {
		t.Fatal("Truncated = true without a row limit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestExecuteReturnsEmptyResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	result, err := Executor{}.Execute(context.Background(), db, "SELECT id FROM empty_table")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 0 || len(result.Columns) != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteHonoursRowLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"n"}).
		AddRow(1).AddRow(2).AddRow(3))

	result, err := Executor{RowLimit: 2}.Execute(context.Background(), db, "SELECT n FROM numbers")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
}

func TestExecuteWrapsDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	boom := errors.New(`relation "dc_ai_test.missing" does not exist`)
	mock.ExpectQuery("SELECT").WillReturnError(boom)

	_, err = Executor{}.Execute(context.Background(), db, "SELECT * FROM dc_ai_test.missing")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
}

func TestExecuteRejectsEmptyStatement(t *testing.T) {
	if _, err := (Executor{}).Execute(context.Background(), nil, "   "); err == nil {
		t.Fatal("expected error for empty statement")
	}
}
