// Package archive keeps an audit trail of report runs as Parquet objects.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/reportgen/reportgen/internal/report"
	"github.com/reportgen/reportgen/internal/storage"
)

const contentType = "application/vnd.apache.parquet"

type parquetRun struct {
	RunID           string `parquet:"run_id"`
	TraceID         string `parquet:"trace_id"`
	Prompt          string `parquet:"prompt"`
	GeneratedSQL    string `parquet:"generated_sql"`
	Status          string `parquet:"status"`
	Stage           string `parquet:"stage"`
	Reason          string `parquet:"reason"`
	RowCount        int64  `parquet:"row_count"`
	ColumnsJSON     string `parquet:"columns_json"`
	RowsJSON        string `parquet:"rows_json"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

// Entry is an archived run as read back from storage.
type Entry struct {
	RunID     string    `json:"run_id"`
	TraceID   string    `json:"trace_id"`
	Prompt    string    `json:"prompt"`
	SQL       string    `json:"generated_sql"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason,omitempty"`
	RowCount  int64     `json:"row_count"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

type Archiver struct {
	Store storage.ObjectStore
}

func (a *Archiver) Archive(ctx context.Context, record report.Record) error {
	if a.Store == nil {
		return fmt.Errorf("object store is required")
	}
	key, err := storage.BuildReportPath(record.RunID, record.CreatedAt)
	if err != nil {
		return err
	}
	data, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"status": string(record.Status),
			"stage":  string(record.Stage),
		},
	}); err != nil {
		return fmt.Errorf("upload report run: %w", err)
	}
	return nil
}

func (a *Archiver) Load(ctx context.Context, runID string, day time.Time) (Entry, error) {
	if a.Store == nil {
		return Entry{}, fmt.Errorf("object store is required")
	}
	key, err := storage.BuildReportPath(runID, day)
	if err != nil {
		return Entry{}, err
	}
	reader, err := a.Store.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Entry{}, fmt.Errorf("read report run %q: %w", key, err)
	}
	return DecodeEntry(data)
}

func EncodeRecord(record report.Record) ([]byte, error) {
	columns := record.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := record.Rows
	if rows == nil {
		rows = [][]any{}
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("marshal columns: %w", err)
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal rows: %w", err)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRun](buf)
	if _, err := writer.Write([]parquetRun{{
		RunID:           record.RunID,
		TraceID:         record.TraceID,
		Prompt:          record.Prompt,
		GeneratedSQL:    record.SQL,
		Status:          string(record.Status),
		Stage:           string(record.Stage),
		Reason:          record.Reason,
		RowCount:        int64(len(rows)),
		ColumnsJSON:     string(columnsJSON),
		RowsJSON:        string(rowsJSON),
		CreatedAtUnixMs: record.CreatedAt.UnixMilli(),
	}}); err != nil {
		return nil, fmt.Errorf("write parquet row: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeEntry(data []byte) (Entry, error) {
	reader := parquet.NewGenericReader[parquetRun](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]parquetRun, 1)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return Entry{}, fmt.Errorf("read parquet row: %w", err)
	}
	if count != 1 {
		return Entry{}, fmt.Errorf("expected one archived run, got %d", count)
	}
	run := rows[0]

	entry := Entry{
		RunID:     run.RunID,
		TraceID:   run.TraceID,
		Prompt:    run.Prompt,
		SQL:       run.GeneratedSQL,
		Status:    run.Status,
		Stage:     run.Stage,
		Reason:    run.Reason,
		RowCount:  run.RowCount,
		CreatedAt: time.UnixMilli(run.CreatedAtUnixMs).UTC(),
	}
	if err := json.Unmarshal([]byte(run.ColumnsJSON), &entry.Columns); err != nil {
		return Entry{}, fmt.Errorf("decode archived columns: %w", err)
	}
	if err := json.Unmarshal([]byte(run.RowsJSON), &entry.Rows); err != nil {
		return Entry{}, fmt.Errorf("decode archived rows: %w", err)
	}
	return entry, nil
}
