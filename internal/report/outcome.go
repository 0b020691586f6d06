package report

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusSuccess  Status = "success"
	StatusRejected Status = "rejected"
	StatusEmpty    Status = "empty"
	StatusFailed   Status = "failed"
)

// Stage is the last pipeline step a request reached.
type Stage string

const (
	StagePromptGuard Stage = "prompt_guard"
	StageConnect     Stage = "connect"
	StageMetadata    Stage = "metadata"
	StageModel       Stage = "model"
	StageSQLGuard    Stage = "sql_guard"
	StageSelectCheck Stage = "select_check"
	StageExecute     Stage = "execute"
)

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome is the single result of a pipeline run. Columns and Rows are set
// for success and empty, Reason for rejected and failed, Err for failed.
type Outcome struct {
	Status    Status
	Stage     Stage
	Columns   []string
	Rows      [][]any
	Truncated bool
	Reason    string
	SQL       string
	Err       error
	// RunID names the archived copy of this run.
	RunID string
}

const ErrorColumn = "Error message"

// Table renders the outcome the way the page displays it. Rejections become a
// one-row table whose first cell is 0 and second cell is the reason.
func (o Outcome) Table() ([]string, [][]any) {
	if o.Status == StatusRejected {
		return []string{ErrorColumn}, [][]any{{0, o.Reason}}
	}
	return o.Columns, o.Rows
}

// Record is the archived form of one pipeline run.
type Record struct {
	RunID     string
	TraceID   string
	Prompt    string
	SQL       string
	Status    Status
	Stage     Stage
	Reason    string
	Columns   []string
	Rows      [][]any
	CreatedAt time.Time
}
