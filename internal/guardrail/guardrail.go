// Package guardrail rejects text that names data-modifying SQL verbs and
// statements that are not plain SELECT queries.
package guardrail

import (
	"regexp"
	"strings"
)

type Decision string

const (
	Allowed   Decision = "allowed"
	Forbidden Decision = "forbidden"
)

// Source names where the inspected text came from.
type Source string

const (
	SourceUser  Source = "prompt from user"
	SourceModel Source = "SQL from AI model"
)

const (
	ReasonModifies   = "I cannot execute any statement that modifies the database."
	ReasonSelectOnly = "I can only execute SELECT statements."
)

var ForbiddenKeywords = []string{"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER"}

type keywordPattern struct {
	word    string
	pattern *regexp.Regexp
}

var keywordPatterns = compileKeywords(ForbiddenKeywords)

func compileKeywords(words []string) []keywordPattern {
	patterns := make([]keywordPattern, 0, len(words))
	for _, word := range words {
		patterns = append(patterns, keywordPattern{
			word:    word,
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`),
		})
	}
	return patterns
}

type Verdict struct {
	Decision Decision `json:"decision"`
	Source   Source   `json:"source"`
	Matched  []string `json:"matched,omitempty"`
}

func (v Verdict) Forbidden() bool {
	return v.Decision == Forbidden
}

// Check matches every forbidden keyword as a whole word against the
// upper-cased text. Matches are reported in keyword order.
func Check(text string, source Source) Verdict {
	upper := strings.ToUpper(text)
	var matched []string
	for _, keyword := range keywordPatterns {
		if keyword.pattern.MatchString(upper) {
			matched = append(matched, keyword.word)
		}
	}
	if len(matched) > 0 {
		return Verdict{Decision: Forbidden, Source: source, Matched: matched}
	}
	return Verdict{Decision: Allowed, Source: source}
}

// IsSelect reports whether the statement starts with SELECT, ignoring case
// and leading whitespace. WITH queries are not accepted.
func IsSelect(text string) bool {
	trimmed := strings.TrimLeft(text, " \t\r\n\f\v")
	if len(trimmed) < len("select") {
		return false
	}
	return strings.EqualFold(trimmed[:len("select")], "select")
}
