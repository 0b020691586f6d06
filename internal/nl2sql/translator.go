// Package nl2sql turns a natural-language report request into model-generated
// SQL text.
package nl2sql

import "context"

type Request struct {
	Prompt string `json:"prompt"`
}

// Result carries the raw model output. Text is not vetted; callers run it
// through the guardrail before execution.
type Result struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
