package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
)

// Context window defaults.
const (
	DefaultMaxTokens     = 4000
	DefaultKeepRecent    = 5
	DefaultSummaryWindow = 10
)

// SummaryWriter persists the single summary of a user.
type SummaryWriter interface {
	PutSummary(ctx context.Context, userKey string, summary domain.Summary) error
}

// AssemblerConfig tunes the context budget.
type AssemblerConfig struct {
	MaxTokens     int
	KeepRecent    int
	SummaryWindow int
	Timeout       time.Duration
}

// Assembly is the outcome of one context assembly.
type Assembly struct {
	// Request is the exact message sequence to send to the model.
	Request []domain.Turn
	// Live is the live buffer after assembly: unchanged, or the recent tail
	// when a summary was produced.
	Live []domain.Turn
	// Summary is the summary in effect for Request.
	Summary *domain.Summary
	// Summarized is true when a new summary was produced and persisted.
	Summarized bool
	// Tokens is the provider's count for the incoming live buffer.
	Tokens int
}

// Assembler decides what part of the history reaches the model.
type Assembler struct {
	summaries  SummaryWriter
	summarizer *Summarizer
	cfg        AssemblerConfig
	now        func() time.Time
}

// NewAssembler creates an assembler. Zero config fields take defaults.
func NewAssembler(summaries SummaryWriter, summarizer *Summarizer, cfg AssemblerConfig) *Assembler {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	if cfg.SummaryWindow <= 0 {
		cfg.SummaryWindow = DefaultSummaryWindow
	}
	return &Assembler{summaries: summaries, summarizer: summarizer, cfg: cfg, now: time.Now}
}

// WithClock replaces the clock used for summary timestamps.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Assemble builds the request for live, the full live buffer including the
// pending user turn. Under budget the summary, if any, leads the live turns.
// At or over budget the older window is summarized, the summary persisted,
// and the request becomes the summary plus the recent tail.
func (a *Assembler) Assemble(ctx context.Context, model llm.Model, userKey string, live []domain.Turn, summary *domain.Summary) (Assembly, error) {
	tokens, err := countTokens(ctx, a.cfg.Timeout, model, live)
	if err != nil {
		return Assembly{}, fmt.Errorf("count context tokens: %w", err)
	}

	if tokens < a.cfg.MaxTokens {
		return Assembly{
			Request: withSummary(summary, live),
			Live:    live,
			Summary: summary,
			Tokens:  tokens,
		}, nil
	}

	older, tail := SummarySlice(live, a.cfg.KeepRecent, a.cfg.SummaryWindow)
	slog.Info("Context over budget, summarizing",
		"user_key", userKey,
		"tokens", tokens,
		"max_tokens", a.cfg.MaxTokens,
		"summarized_turns", len(older),
		"kept_turns", len(tail),
	)

	text, err := a.summarizer.Summarize(ctx, model, older)
	if err != nil {
		return Assembly{}, err
	}
	next := &domain.Summary{Text: text, Timestamp: a.now()}
	if err := a.summaries.PutSummary(ctx, userKey, *next); err != nil {
		return Assembly{}, fmt.Errorf("persist summary: %w", err)
	}

	return Assembly{
		Request:    withSummary(next, tail),
		Live:       tail,
		Summary:    next,
		Summarized: true,
		Tokens:     tokens,
	}, nil
}

// SummarySlice splits live into the window to summarize and the recent tail
// to keep. The window is the summaryWindow turns ending keepRecent turns
// before the newest, clamped to what exists. When nothing precedes the tail
// the whole buffer is summarized.
func SummarySlice(live []domain.Turn, keepRecent, summaryWindow int) (older, tail []domain.Turn) {
	n := len(live)
	end := max(0, n-keepRecent)
	start := max(0, end-summaryWindow)

	tail = domain.CloneTurns(live[end:])
	if end == 0 {
		return domain.CloneTurns(live), tail
	}
	return domain.CloneTurns(live[start:end]), tail
}

func withSummary(summary *domain.Summary, turns []domain.Turn) []domain.Turn {
	if summary == nil {
		return domain.CloneTurns(turns)
	}
	out := make([]domain.Turn, 0, len(turns)+1)
	out = append(out, summary.AsTurn())
	return append(out, turns...)
}
