package nl2sql

import (
	"strings"

	"github.com/reportgen/reportgen/internal/guardrail"
)

type PromptInput struct {
	Engine       string
	SchemaName   string
	MetadataJSON string
	UserRequest  string
}

// BuildPrompt is deterministic: identical inputs produce byte-identical
// prompts. The user request is appended last and verbatim.
func BuildPrompt(in PromptInput) string {
	engine := strings.TrimSpace(in.Engine)
	if engine == "" {
		engine = "Aurora Postgres"
	}

	var b strings.Builder
	b.WriteString("Act as a developer writing SQL code for an ")
	b.WriteString(engine)
	b.WriteString(" database.\n")
	b.WriteString("Important: Do not generate any SQL that modifies data in the database. Only generate SELECT statements.\n")
	b.WriteString("Never generate ")
	b.WriteString(strings.Join(guardrail.ForbiddenKeywords, ", "))
	b.WriteString(", or any other data modification statements.\n")
	b.WriteString("Reject requests that contain the words change, modify, revise, replace.\n")
	b.WriteString("The database schema name is ")
	b.WriteString(in.SchemaName)
	b.WriteString(" and contains the following tables:\n")
	b.WriteString(in.MetadataJSON)
	b.WriteString("\nConvert the following text to SQL query and only return the SQL query without any explanation.\n")
	b.WriteString(in.UserRequest)
	return b.String()
}

// CleanSQL removes a surrounding markdown code fence and outer whitespace.
func CleanSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "sql") {
		trimmed = trimmed[3:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
