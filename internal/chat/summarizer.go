package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
)

const summaryInstruction = "Summarize the following conversation in under 500 words, try to maintain exact specific details :\n"

// BuildSummaryPrompt renders turns as "<role>: <content>" lines after the
// fixed summarization instruction.
func BuildSummaryPrompt(turns []domain.Turn) string {
	var b strings.Builder
	b.WriteString(summaryInstruction)
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text())
		b.WriteString("\n")
	}
	return b.String()
}

// Summarizer compresses a slice of turns with one model call.
type Summarizer struct {
	timeout time.Duration
}

// NewSummarizer creates a summarizer whose model call is bounded by timeout.
func NewSummarizer(timeout time.Duration) *Summarizer {
	return &Summarizer{timeout: timeout}
}

// Summarize returns the first candidate of the summarizer persona. A reply
// with no candidates or only blank text is returned as domain.ErrNoCandidates
// so the stored summary is never replaced by an empty one.
func (s *Summarizer) Summarize(ctx context.Context, model llm.Model, turns []domain.Turn) (string, error) {
	prompt := domain.NewTurn(domain.RoleUser, BuildSummaryPrompt(turns), time.Now())

	resp, err := Generate(ctx, s.timeout, model, llm.SummarizerPersona(), []domain.Turn{prompt})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if !resp.HasText() {
		return "", fmt.Errorf("summarize: %w", domain.ErrNoCandidates)
	}
	text, _ := resp.Text()
	return text, nil
}
