package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/reportgen/reportgen/internal/report"
	"github.com/reportgen/reportgen/internal/storage"
)

const maxGenerateBodyBytes = 1 << 20

// RunIDHeader carries the id that GET /v1/archive/{date}/{run_id} resolves.
const RunIDHeader = "X-Report-Run-ID"

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type tableResponse struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

func handleGenerate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reports == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "REPORTS_UNAVAILABLE", "report generator is not configured")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBodyBytes)).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	outcome := deps.Reports.Generate(r.Context(), req.Prompt)
	if outcome.RunID != "" {
		w.Header().Set(RunIDHeader, outcome.RunID)
	}
	switch outcome.Status {
	case report.StatusSuccess, report.StatusRejected:
		columns, rows := outcome.Table()
		writeJSON(w, http.StatusOK, tableResponse{Columns: columns, Rows: rows, Truncated: outcome.Truncated})
	case report.StatusEmpty:
		writeError(r.Context(), w, http.StatusNotFound, "NO_DATA", "No data returned")
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, failureCode(outcome.Stage), outcome.Reason)
	}
}

func failureCode(stage report.Stage) string {
	switch stage {
	case report.StageConnect:
		return "CONNECT_FAILED"
	case report.StageMetadata:
		return "METADATA_FAILED"
	case report.StageModel:
		return "MODEL_FAILED"
	case report.StageExecute:
		return "EXECUTION_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

func handleArchiveGet(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotFound, "ARCHIVE_DISABLED", "report archive is not enabled")
		return
	}
	day, err := time.Parse(time.DateOnly, r.PathValue("date"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE", "date must be formatted as YYYY-MM-DD")
		return
	}
	entry, err := deps.Archive.Load(r.Context(), r.PathValue("run_id"), day)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "archived report not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidPath) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_RUN_ID", err.Error())
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_READ_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
