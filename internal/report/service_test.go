package report

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/reportgen/reportgen/internal/config"
	"github.com/reportgen/reportgen/internal/database"
	"github.com/reportgen/reportgen/internal/guardrail"
	"github.com/reportgen/reportgen/internal/nl2sql"
	"github.com/reportgen/reportgen/internal/observability"
	"github.com/reportgen/reportgen/internal/query"
	"github.com/reportgen/reportgen/internal/schema"
	"github.com/reportgen/reportgen/internal/secrets"
)

type countingConnector struct {
	dialer   *database.Dialer
	acquired int
	err      error
}

func (c *countingConnector) Acquire(ctx context.Context) (*database.Session, error) {
	c.acquired++
	if c.err != nil {
		return nil, c.err
	}
	return c.dialer.Acquire(ctx)
}

type fakeMetadata struct {
	metadata schema.Metadata
	err      error
}

func (f fakeMetadata) FetchMetadata(context.Context, schema.Querier) (schema.Metadata, error) {
	return f.metadata, f.err
}

type fakeTranslator struct {
	text    string
	err     error
	prompts []string
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nl2sql.Result{}, f.err
	}
	return nl2sql.Result{Text: f.text, Provider: "fake", Model: "fake-model"}, nil
}

type recordingExecutor struct {
	statements []string
	result     query.Result
	err        error
}

func (r *recordingExecutor) Execute(_ context.Context, _ query.Querier, statement string) (query.Result, error) {
	r.statements = append(r.statements, statement)
	return r.result, r.err
}

type memoryArchiver struct {
	records []Record
	ctxErrs []error
	err     error
}

func (m *memoryArchiver) Archive(ctx context.Context, record Record) error {
	m.records = append(m.records, record)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return m.err
}

// cancelingTranslator cancels the request context once the model answers,
// the way a client disconnecting mid-request would.
type cancelingTranslator struct {
	fakeTranslator
	cancel context.CancelFunc
}

func (c *cancelingTranslator) Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	result, err := c.fakeTranslator.Translate(ctx, req)
	c.cancel()
	return result, err
}

func newMockConnector(t *testing.T) (*countingConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &countingConnector{dialer: &database.Dialer{
		Driver:      config.DriverPostgres,
		Credentials: secrets.Static{DSN: "postgres://reader@aurora/reports"},
		Open: func(string, string) (*sql.DB, error) {
			return db, nil
		},
	}}, mock
}

func newTestService(t *testing.T, translator *fakeTranslator, executor *recordingExecutor) (*Service, *countingConnector) {
	t.Helper()
	connector, mock := newMockConnector(t)
	mock.ExpectClose()
	// Runs before the db.Close cleanup above. Requests rejected ahead of the
	// connect stage never open a session, so there is nothing to close.
	t.Cleanup(func() {
		if connector.acquired == 0 || connector.err != nil {
			return
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("database session not closed: %v", err)
		}
	})
	return &Service{
		Connector:     connector,
		Metadata:      fakeMetadata{metadata: employeesMetadata()},
		Translator:    translator,
		Executor:      executor,
		Engine:        "Aurora Postgres",
		SchemaName:    "dc_ai_test",
		ModelProvider: "fake",
	}, connector
}

func employeesMetadata() schema.Metadata {
	return schema.Metadata{
		{SchemaName: "dc_ai_test", TableName: "employees", ColumnName: "id", DataType: "integer", KeyType: schema.KeyPrimary},
		{SchemaName: "dc_ai_test", TableName: "employees", ColumnName: "name", DataType: "text", KeyType: schema.KeyNone},
	}
}

func TestGenerateReturnsRowsForSelect(t *testing.T) {
	translator := &fakeTranslator{text: "SELECT * FROM employees;"}
	executor := &recordingExecutor{result: query.Result{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{int64(1), "Ada"}, {int64(2), "Grace"}},
	}}
	service, connector := newTestService(t, translator, executor)

	outcome := service.Generate(context.Background(), "show me all employees")
	if outcome.Status != StatusSuccess {
		t.Fatalf("Status = %s (%s)", outcome.Status, outcome.Reason)
	}
	if !reflect.DeepEqual(outcome.Columns, []string{"id", "name"}) || len(outcome.Rows) != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.SQL != "SELECT * FROM employees;" {
		t.Fatalf("SQL = %q", outcome.SQL)
	}
	if connector.acquired != 1 {
		t.Fatalf("acquired = %d", connector.acquired)
	}
	if len(translator.prompts) != 1 || !strings.HasSuffix(translator.prompts[0], "show me all employees") {
		t.Fatalf("prompts = %q", translator.prompts)
	}
	if !strings.Contains(translator.prompts[0], `"table_name":"employees"`) {
		t.Fatalf("prompt missing metadata: %s", translator.prompts[0])
	}
}

func TestGenerateRejectsForbiddenPromptBeforeConnecting(t *testing.T) {
	translator := &fakeTranslator{text: "SELECT 1"}
	executor := &recordingExecutor{}
	service, connector := newTestService(t, translator, executor)

	outcome := service.Generate(context.Background(), "delete all employees")
	if outcome.Status != StatusRejected || outcome.Stage != StagePromptGuard {
		t.Fatalf("outcome = %+v", outcome)
	}
	columns, rows := outcome.Table()
	if !reflect.DeepEqual(columns, []string{"Error message"}) {
		t.Fatalf("columns = %v", columns)
	}
	if !reflect.DeepEqual(rows, [][]any{{0, "I cannot execute any statement that modifies the database."}}) {
		t.Fatalf("rows = %v", rows)
	}
	if connector.acquired != 0 || len(translator.prompts) != 0 || len(executor.statements) != 0 {
		t.Fatalf("pipeline continued after rejection: acquired=%d prompts=%d statements=%d",
			connector.acquired, len(translator.prompts), len(executor.statements))
	}
}

func TestGenerateRejectsModifyingModelOutput(t *testing.T) {
	translator := &fakeTranslator{text: "UPDATE employees SET active=false;"}
	executor := &recordingExecutor{}
	service, _ := newTestService(t, translator, executor)

	outcome := service.Generate(context.Background(), "deactivate everyone")
	if outcome.Status != StatusRejected || outcome.Stage != StageSQLGuard {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Reason != guardrail.ReasonModifies {
		t.Fatalf("Reason = %q", outcome.Reason)
	}
	if len(executor.statements) != 0 {
		t.Fatalf("executor reached: %q", executor.statements)
	}
}

func TestGenerateNeverExecutesNonSelect(t *testing.T) {
	for _, text := range []string{
		"SHOW TABLES;",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"Here is your query: SELECT * FROM employees",
		"TRUNCATE employees",
	} {
		translator := &fakeTranslator{text: text}
		executor := &recordingExecutor{}
		service, _ := newTestService(t, translator, executor)

		outcome := service.Generate(context.Background(), "list tables")
		if outcome.Status != StatusRejected || outcome.Reason != guardrail.ReasonSelectOnly {
			t.Fatalf("model text %q: outcome = %+v", text, outcome)
		}
		if len(executor.statements) != 0 {
			t.Fatalf("model text %q reached the executor", text)
		}
	}
}

func TestGenerateStripsMarkdownFence(t *testing.T) {
	translator := &fakeTranslator{text: "```sql\nSELECT name FROM employees\n```"}
	executor := &recordingExecutor{result: query.Result{Columns: []string{"name"}, Rows: [][]any{{"Ada"}}}}
	service, _ := newTestService(t, translator, executor)

	outcome := service.Generate(context.Background(), "employee names")
	if outcome.Status != StatusSuccess {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(executor.statements) != 1 || executor.statements[0] != "SELECT name FROM employees" {
		t.Fatalf("statements = %q", executor.statements)
	}
}

func TestGenerateReadOnlyVerificationRejectsLockingSelect(t *testing.T) {
	translator := &fakeTranslator{text: "SELECT * FROM employees FOR SHARE"}
	executor := &recordingExecutor{}
	service, _ := newTestService(t, translator, executor)
	service.VerifyReadOnly = true

	outcome := service.Generate(context.Background(), "lock the employees")
	if outcome.Status != StatusRejected || outcome.Reason != guardrail.ReasonSelectOnly {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(executor.statements) != 0 {
		t.Fatal("executor reached")
	}
}

func TestGenerateDistinguishesEmptyResult(t *testing.T) {
	translator := &fakeTranslator{text: "SELECT * FROM employees WHERE id < 0"}
	executor := &recordingExecutor{result: query.Result{Columns: []string{"id", "name"}, Rows: [][]any{}}}
	service, _ := newTestService(t, translator, executor)

	outcome := service.Generate(context.Background(), "employees with negative ids")
	if outcome.Status != StatusEmpty {
		t.Fatalf("Status = %s", outcome.Status)
	}
	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
}

func TestGenerateFailsWhenDatabaseUnreachable(t *testing.T) {
	connErr := errors.New(`dial tcp 10.0.0.5:5432: connect: connection refused`)
	translator := &fakeTranslator{text: "SELECT 1"}
	service := &Service{
		Connector:  &countingConnector{err: connErr},
		Metadata:   fakeMetadata{},
		Translator: translator,
		Executor:   &recordingExecutor{},
		SchemaName: "dc_ai_test",
	}

	outcome := service.Generate(context.Background(), "show me all employees")
	if outcome.Status != StatusFailed || outcome.Stage != StageConnect {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Reason != connErr.Error() {
		t.Fatalf("Reason = %q", outcome.Reason)
	}
	var stageErr *StageError
	if !errors.As(outcome.Err, &stageErr) || stageErr.Stage != StageConnect || !errors.Is(outcome.Err, connErr) {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if len(translator.prompts) != 0 {
		t.Fatal("model invoked without metadata")
	}
}

func TestGenerateFailsOnMetadataError(t *testing.T) {
	translator := &fakeTranslator{text: "SELECT 1"}
	service, _ := newTestService(t, translator, &recordingExecutor{})
	service.Metadata = fakeMetadata{err: errors.New("canceling statement due to statement timeout")}

	outcome := service.Generate(context.Background(), "show me all employees")
	if outcome.Status != StatusFailed || outcome.Stage != StageMetadata {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(translator.prompts) != 0 {
		t.Fatal("model invoked after metadata failure")
	}
}

func TestGenerateFailsOnModelAndExecutionErrors(t *testing.T) {
	service, _ := newTestService(t, &fakeTranslator{err: errors.New("throttling")}, &recordingExecutor{})
	if outcome := service.Generate(context.Background(), "x"); outcome.Status != StatusFailed || outcome.Stage != StageModel {
		t.Fatalf("model outcome = %+v", outcome)
	}

	service, _ = newTestService(t, &fakeTranslator{text: "SELECT * FROM missing"}, &recordingExecutor{err: errors.New(`relation "missing" does not exist`)})
	outcome := service.Generate(context.Background(), "x")
	if outcome.Status != StatusFailed || outcome.Stage != StageExecute {
		t.Fatalf("execute outcome = %+v", outcome)
	}
	if outcome.SQL != "SELECT * FROM missing" {
		t.Fatalf("SQL = %q", outcome.SQL)
	}
}

func TestGenerateArchivesEveryRun(t *testing.T) {
	archiver := &memoryArchiver{err: errors.New("bucket unavailable")}
	service, _ := newTestService(t, &fakeTranslator{text: "SELECT 1"}, &recordingExecutor{})
	service.Archiver = archiver

	ctx := observability.ContextWithTraceID(context.Background(), "trace-123")
	outcome := service.Generate(ctx, "drop everything")
	if outcome.Status != StatusRejected {
		t.Fatalf("archive failure changed the outcome: %+v", outcome)
	}
	if len(archiver.records) != 1 {
		t.Fatalf("records = %d", len(archiver.records))
	}
	record := archiver.records[0]
	if record.TraceID != "trace-123" || record.Prompt != "drop everything" || record.Status != StatusRejected {
		t.Fatalf("record = %+v", record)
	}
	if record.RunID != outcome.RunID || !strings.HasPrefix(record.RunID, "trace-123-") {
		t.Fatalf("RunID = %q, outcome RunID = %q", record.RunID, outcome.RunID)
	}
}

func TestGenerateGivesRunsSharingATraceIDDistinctRunIDs(t *testing.T) {
	archiver := &memoryArchiver{}
	service, _ := newTestService(t, &fakeTranslator{text: "SELECT 1"}, &recordingExecutor{})
	service.Archiver = archiver

	ctx := observability.ContextWithTraceID(context.Background(), "abc")
	first := service.Generate(ctx, "drop the salaries table")
	second := service.Generate(ctx, "delete every product")

	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("run ids = %q, %q", first.RunID, second.RunID)
	}
	if len(archiver.records) != 2 || archiver.records[0].RunID == archiver.records[1].RunID {
		t.Fatalf("records = %+v", archiver.records)
	}
	for _, record := range archiver.records {
		if record.TraceID != "abc" {
			t.Fatalf("TraceID = %q", record.TraceID)
		}
	}
}

func TestNewRunID(t *testing.T) {
	if id := NewRunID(""); len(id) != 36 {
		t.Fatalf("NewRunID(\"\") = %q, want a bare uuid", id)
	}
	long := strings.Repeat("a", 127) + "-"
	for _, traceID := range []string{"abc", "trace.1_x", long} {
		id := NewRunID(traceID)
		if !observability.ValidTraceID(id) {
			t.Fatalf("NewRunID(%q) = %q, not a safe object name", traceID, id)
		}
		if id == NewRunID(traceID) {
			t.Fatalf("NewRunID(%q) repeated %q", traceID, id)
		}
	}
}

func TestGenerateArchivesAfterClientCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	translator := &cancelingTranslator{fakeTranslator: fakeTranslator{text: "UPDATE employees SET active = false"}, cancel: cancel}
	archiver := &memoryArchiver{}
	service, _ := newTestService(t, nil, &recordingExecutor{})
	service.Translator = translator
	service.Archiver = archiver

	outcome := service.Generate(ctx, "deactivate everyone")
	if ctx.Err() == nil {
		t.Fatal("request context was not canceled")
	}
	if outcome.Status != StatusRejected || outcome.Stage != StageSQLGuard {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(archiver.records) != 1 {
		t.Fatalf("records = %d", len(archiver.records))
	}
	if archiver.ctxErrs[0] != nil {
		t.Fatalf("archive context error = %v", archiver.ctxErrs[0])
	}
}

func TestGenerateEndToEndWithIntrospectorAndExecutor(t *testing.T) {
	connector, mock := newMockConnector(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.tables t")).
		WithArgs("dc_ai_test").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "size", "key_type"}).
			AddRow("dc_ai_test", "employees", "id", "integer", int64(32), "PK"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM employees")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectClose()

	service := &Service{
		Connector:      connector,
		Metadata:       schema.Introspector{SchemaName: "dc_ai_test"},
		Translator:     &fakeTranslator{text: "SELECT id FROM employees"},
		Executor:       query.Executor{},
		SchemaName:     "dc_ai_test",
		VerifyReadOnly: true,
	}
	if err := service.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	outcome := service.Generate(context.Background(), "employee ids")
	if outcome.Status != StatusSuccess {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !reflect.DeepEqual(outcome.Rows, [][]any{{int64(7)}}) {
		t.Fatalf("rows = %#v", outcome.Rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
