// Package schema reads table and column metadata for the reporting schema.
package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

type KeyType string

const (
	KeyPrimary KeyType = "PK"
	KeyForeign KeyType = "FK"
	KeyNone    KeyType = "Not a key"
)

type Column struct {
	SchemaName string  `json:"table_schema"`
	TableName  string  `json:"table_name"`
	ColumnName string  `json:"column_name"`
	DataType   string  `json:"data_type"`
	Size       *int64  `json:"size"`
	KeyType    KeyType `json:"key_type"`
}

// Metadata is ordered by table name, then ordinal position.
type Metadata []Column

// JSON renders the metadata as the compact array embedded into model prompts.
// An empty schema renders as "[]".
func (m Metadata) JSON() (string, error) {
	if m == nil {
		m = Metadata{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal schema metadata: %w", err)
	}
	return string(raw), nil
}

func (m Metadata) Tables() []string {
	tables := make([]string, 0)
	seen := make(map[string]struct{})
	for _, column := range m {
		if _, ok := seen[column.TableName]; ok {
			continue
		}
		seen[column.TableName] = struct{}{}
		tables = append(tables, column.TableName)
	}
	return tables
}

// Querier is satisfied by *sql.Conn, *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Introspector struct {
	SchemaName string
}

const metadataQuery = `
SELECT
    t.table_schema,
    t.table_name,
    c.column_name,
    c.data_type,
    CASE
        WHEN c.character_maximum_length IS NOT NULL THEN c.character_maximum_length
        WHEN c.numeric_precision IS NOT NULL THEN c.numeric_precision
        ELSE NULL
    END AS size,
    CASE
        WHEN tc.constraint_type = 'PRIMARY KEY' THEN 'PK'
        WHEN tc.constraint_type = 'FOREIGN KEY' THEN 'FK'
        ELSE 'Not a key'
    END AS key_type
FROM information_schema.tables t
JOIN information_schema.columns c
    ON t.table_name = c.table_name
    AND t.table_schema = c.table_schema
LEFT JOIN information_schema.key_column_usage kcu
    ON c.column_name = kcu.column_name
    AND c.table_name = kcu.table_name
    AND c.table_schema = kcu.table_schema
LEFT JOIN information_schema.table_constraints tc
    ON kcu.constraint_name = tc.constraint_name
    AND kcu.table_name = tc.table_name
    AND kcu.table_schema = tc.table_schema
WHERE t.table_schema = $1
    AND t.table_type = 'BASE TABLE'
ORDER BY t.table_name, c.ordinal_position`

func (i Introspector) FetchMetadata(ctx context.Context, q Querier) (Metadata, error) {
	schemaName := strings.TrimSpace(i.SchemaName)
	if schemaName == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	if q == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	rows, err := q.QueryContext(ctx, metadataQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query schema metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	metadata := Metadata{}
	for rows.Next() {
		var (
			column  Column
			size    sql.NullInt64
			keyType string
		)
		if err := rows.Scan(&column.SchemaName, &column.TableName, &column.ColumnName, &column.DataType, &size, &keyType); err != nil {
			return nil, fmt.Errorf("scan schema metadata: %w", err)
		}
		if size.Valid {
			value := size.Int64
			column.Size = &value
		}
		column.KeyType = KeyType(keyType)
		metadata = append(metadata, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema metadata: %w", err)
	}
	return metadata, nil
}
