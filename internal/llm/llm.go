// Package llm defines the language model contract used by the chat and
// planner services, and the Gemini implementation behind it.
package llm

import (
	"context"
	"strings"

	"github.com/ashureev/goalplan/internal/domain"
)

// Model is a hosted language model bound to one API key.
type Model interface {
	// CountTokens returns the provider's token count for turns.
	CountTokens(ctx context.Context, turns []domain.Turn) (int, error)

	// Generate runs one completion with the given persona.
	Generate(ctx context.Context, persona Persona, turns []domain.Turn) (*Response, error)
}

// ParamSpec describes one argument of a callable tool.
type ParamSpec struct {
	Name        string
	Type        string // "string", "integer", "boolean"
	Format      string // e.g. "date"
	Description string
	Required    bool
}

// ToolSpec declares a function the model may ask to call.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// FunctionCall is a model request to invoke a tool.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Response is the provider-neutral result of Generate.
type Response struct {
	Candidates   []string
	FunctionCall *FunctionCall
}

// Text returns the first candidate or ErrNoCandidates.
func (r *Response) Text() (string, error) {
	if r == nil || len(r.Candidates) == 0 {
		return "", domain.ErrNoCandidates
	}
	return r.Candidates[0], nil
}

// HasText reports whether the first candidate carries non-blank text.
func (r *Response) HasText() bool {
	return r != nil && len(r.Candidates) > 0 && strings.TrimSpace(r.Candidates[0]) != ""
}
