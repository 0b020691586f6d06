// Package report runs the natural-language report pipeline: guard the request,
// describe the schema to the model, guard the generated SQL and execute it.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reportgen/reportgen/internal/database"
	"github.com/reportgen/reportgen/internal/guardrail"
	"github.com/reportgen/reportgen/internal/nl2sql"
	"github.com/reportgen/reportgen/internal/observability"
	"github.com/reportgen/reportgen/internal/query"
	"github.com/reportgen/reportgen/internal/schema"
)

type Connector interface {
	Acquire(ctx context.Context) (*database.Session, error)
}

type MetadataSource interface {
	FetchMetadata(ctx context.Context, q schema.Querier) (schema.Metadata, error)
}

type StatementExecutor interface {
	Execute(ctx context.Context, q query.Querier, statement string) (query.Result, error)
}

type Archiver interface {
	Archive(ctx context.Context, record Record) error
}

type Service struct {
	Connector     Connector
	Metadata      MetadataSource
	Translator    nl2sql.Translator
	Executor      StatementExecutor
	Archiver      Archiver
	Logger        *slog.Logger
	Engine        string
	SchemaName    string
	ModelProvider string
	// VerifyReadOnly adds a grammar-based check after the keyword and prefix
	// checks. It only understands PostgreSQL syntax.
	VerifyReadOnly bool
	Now            func() time.Time
	// ArchiveTimeout bounds the archive upload, which outlives the request.
	ArchiveTimeout time.Duration
}

const (
	defaultArchiveTimeout = 30 * time.Second
	// Leaves room for "-" and a uuid inside a 128 character object name.
	maxRunIDTracePrefix = 90
)

// NewRunID derives a unique run id from the caller's trace id. Clients choose
// trace ids, so two runs may share one; the uuid suffix keeps them apart.
func NewRunID(traceID string) string {
	suffix := uuid.NewString()
	traceID = strings.TrimRight(truncate(traceID, maxRunIDTracePrefix), "._-")
	if traceID == "" {
		return suffix
	}
	return traceID + "-" + suffix
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n]
}

func (s *Service) Generate(ctx context.Context, prompt string) Outcome {
	logger := observability.RequestLogger(ctx, s.Logger)
	start := s.now()

	outcome := s.run(ctx, logger, prompt)
	outcome.RunID = NewRunID(observability.TraceIDFromContext(ctx))
	observability.ObservePipelineOutcome(string(outcome.Status), string(outcome.Stage))

	attrs := []any{
		slog.String("status", string(outcome.Status)),
		slog.String("stage", string(outcome.Stage)),
		slog.String("run_id", outcome.RunID),
		slog.Int("rows", len(outcome.Rows)),
		slog.Duration("elapsed", s.now().Sub(start)),
	}
	switch outcome.Status {
	case StatusFailed:
		logger.Error("report pipeline failed", append(attrs, slog.String("error", outcome.Reason))...)
	case StatusRejected:
		logger.Warn("report request rejected", append(attrs, slog.String("reason", outcome.Reason))...)
	default:
		logger.Info("report pipeline completed", attrs...)
	}

	s.archive(ctx, logger, prompt, outcome, start)
	return outcome
}

func (s *Service) run(ctx context.Context, logger *slog.Logger, prompt string) Outcome {
	if s.guard(logger, prompt, guardrail.SourceUser).Forbidden() {
		return rejected(StagePromptGuard, guardrail.ReasonModifies, "")
	}

	session, err := s.Connector.Acquire(ctx)
	if err != nil {
		return failed(StageConnect, err, "")
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("close database session", slog.String("error", err.Error()))
		}
	}()

	metadata, err := s.Metadata.FetchMetadata(ctx, session.Conn())
	if err != nil {
		return failed(StageMetadata, err, "")
	}
	metadataJSON, err := metadata.JSON()
	if err != nil {
		return failed(StageMetadata, err, "")
	}
	logger.Debug("fetched schema metadata",
		slog.String("schema", s.SchemaName),
		slog.Int("columns", len(metadata)),
		slog.Int("tables", len(metadata.Tables())),
	)

	modelPrompt := nl2sql.BuildPrompt(nl2sql.PromptInput{
		Engine:       s.Engine,
		SchemaName:   s.SchemaName,
		MetadataJSON: metadataJSON,
		UserRequest:  prompt,
	})
	invokeStart := s.now()
	generated, err := s.Translator.Translate(ctx, nl2sql.Request{Prompt: modelPrompt})
	observability.ObserveModelInvocation(s.ModelProvider, s.now().Sub(invokeStart), err)
	if err != nil {
		return failed(StageModel, err, "")
	}

	sql := nl2sql.CleanSQL(generated.Text)
	logger.Debug("model generated sql", slog.String("model", generated.Model), slog.String("sql", sql))

	if s.guard(logger, sql, guardrail.SourceModel).Forbidden() {
		return rejected(StageSQLGuard, guardrail.ReasonModifies, sql)
	}
	if !guardrail.IsSelect(sql) {
		return rejected(StageSelectCheck, guardrail.ReasonSelectOnly, sql)
	}
	if s.VerifyReadOnly {
		if err := guardrail.VerifyReadOnly(sql); err != nil {
			logger.Warn("generated sql failed read-only verification", slog.String("error", err.Error()))
			return rejected(StageSelectCheck, guardrail.ReasonSelectOnly, sql)
		}
	}

	result, err := s.Executor.Execute(ctx, session.Conn(), sql)
	if err != nil {
		return failed(StageExecute, err, sql)
	}
	observability.ObserveQueryRows(len(result.Rows))

	status := StatusSuccess
	if len(result.Rows) == 0 {
		status = StatusEmpty
	}
	return Outcome{
		Status:    status,
		Stage:     StageExecute,
		Columns:   result.Columns,
		Rows:      result.Rows,
		Truncated: result.Truncated,
		SQL:       sql,
	}
}

func (s *Service) guard(logger *slog.Logger, text string, source guardrail.Source) guardrail.Verdict {
	verdict := guardrail.Check(text, source)
	observability.ObserveGuardrailVerdict(string(source), string(verdict.Decision))
	if verdict.Forbidden() {
		logger.Warn("prohibited words found",
			slog.String("source", string(source)),
			slog.Any("matched", verdict.Matched),
			slog.String("text", text),
		)
		return verdict
	}
	logger.Debug("no prohibited words found", slog.String("source", string(source)))
	return verdict
}

func (s *Service) archive(ctx context.Context, logger *slog.Logger, prompt string, outcome Outcome, createdAt time.Time) {
	if s.Archiver == nil {
		return
	}
	timeout := s.ArchiveTimeout
	if timeout <= 0 {
		timeout = defaultArchiveTimeout
	}
	// A client disconnect must not drop the audit record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := s.Archiver.Archive(ctx, Record{
		RunID:     outcome.RunID,
		TraceID:   observability.TraceIDFromContext(ctx),
		Prompt:    prompt,
		SQL:       outcome.SQL,
		Status:    outcome.Status,
		Stage:     outcome.Stage,
		Reason:    outcome.Reason,
		Columns:   outcome.Columns,
		Rows:      outcome.Rows,
		CreatedAt: createdAt,
	})
	observability.ObserveArchiveWrite(err)
	if err != nil {
		logger.Warn("archive report run", slog.String("run_id", outcome.RunID), slog.String("error", err.Error()))
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func rejected(stage Stage, reason, sql string) Outcome {
	return Outcome{Status: StatusRejected, Stage: stage, Reason: reason, SQL: sql}
}

func failed(stage Stage, err error, sql string) Outcome {
	return Outcome{
		Status: StatusFailed,
		Stage:  stage,
		Reason: err.Error(),
		SQL:    sql,
		Err:    &StageError{Stage: stage, Err: err},
	}
}

// Validate reports missing collaborators before the service takes traffic.
func (s *Service) Validate() error {
	switch {
	case s.Connector == nil:
		return fmt.Errorf("connector is required")
	case s.Metadata == nil:
		return fmt.Errorf("metadata source is required")
	case s.Translator == nil:
		return fmt.Errorf("translator is required")
	case s.Executor == nil:
		return fmt.Errorf("executor is required")
	case s.SchemaName == "":
		return fmt.Errorf("schema name is required")
	}
	return nil
}
