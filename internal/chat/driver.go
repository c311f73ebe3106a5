package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/ashureev/goalplan/internal/ratelimit"
	"github.com/samber/oops"
)

// RateChecker decides whether a user may send another turn.
type RateChecker interface {
	Allow(ctx context.Context, userKey string) (ratelimit.Decision, error)
}

// TurnStore persists user and model turn pairs.
type TurnStore interface {
	AppendTurns(ctx context.Context, userKey string, turns ...*domain.Turn) error
}

// PlanReader exposes the plan status injected into each turn.
type PlanReader interface {
	GetPlan(ctx context.Context, userKey string) (*domain.PlanRecord, error)
}

// TurnResult describes a completed turn.
type TurnResult struct {
	UserTurn     domain.Turn        `json:"user_turn"`
	ModelTurn    domain.Turn        `json:"model_turn"`
	Summarized   bool               `json:"summarized"`
	FunctionCall *llm.FunctionCall  `json:"function_call,omitempty"`
	Rate         ratelimit.Decision `json:"rate"`
}

// Driver runs one user turn end to end:
// rate check, metadata injection, assembly, model call with at most one
// function dispatch, persistence, display update.
type Driver struct {
	limiter   RateChecker
	assembler *Assembler
	bridge    *Bridge
	turns     TurnStore
	plans     PlanReader
	timeout   time.Duration
	now       func() time.Time
}

// DriverDeps are the collaborators of a Driver.
type DriverDeps struct {
	Limiter   RateChecker
	Assembler *Assembler
	Bridge    *Bridge
	Turns     TurnStore
	Plans     PlanReader
	Timeout   time.Duration
}

// NewDriver creates a turn driver.
func NewDriver(deps DriverDeps) *Driver {
	return &Driver{
		limiter:   deps.Limiter,
		assembler: deps.Assembler,
		bridge:    deps.Bridge,
		turns:     deps.Turns,
		plans:     deps.Plans,
		timeout:   deps.Timeout,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for turn timestamps.
func (d *Driver) WithClock(now func() time.Time) *Driver {
	d.now = now
	return d
}

// Turn processes one user message against st and returns the state to keep.
// Nothing of the turn is persisted unless both the user and the model turn
// are. A summary produced during assembly is kept even if the model call
// then fails, and the returned state reflects it.
func (d *Driver) Turn(ctx context.Context, userKey string, model llm.Model, st State, text string) (State, *TurnResult, error) {
	errb := oops.In("chat").With("user_key", userKey)

	if userKey == "" {
		return st, nil, errb.Code("unauthenticated").Wrap(domain.ErrUnauthenticated)
	}
	if strings.TrimSpace(text) == "" {
		return st, nil, errb.Code("empty_message").Wrap(api.BadRequest("message is required"))
	}

	decision, err := d.limiter.Allow(ctx, userKey)
	if err != nil {
		return st, nil, errb.Code("rate_check").Wrapf(err, "rate check")
	}
	if !decision.Allowed {
		slog.Info("Turn rate limited", "user_key", userKey, "count", decision.Count, "limit", decision.Limit)
		return st, nil, errb.Code("rate_limited").
			With("count", decision.Count, "limit", decision.Limit).
			Wrap(domain.ErrRateLimited)
	}

	content := InjectMetadata(text, st.Params, d.planStatus(ctx, userKey))
	userTurn := domain.NewTurn(domain.RoleUser, content, d.now())
	live := append(domain.CloneTurns(st.Live), userTurn)

	asm, err := d.assembler.Assemble(ctx, model, userKey, live, st.Summary)
	if err != nil {
		return st, nil, errb.Code("assemble").Wrapf(err, "assemble context")
	}
	st = st.Adopt(asm)

	reply, call, err := d.complete(ctx, userKey, model, asm.Request)
	if err != nil {
		return st, nil, errb.Code("model_call").Wrapf(err, "model call")
	}

	now := d.now()
	userTurn.Timestamp = now
	modelTurn := domain.NewTurn(domain.RoleModel, reply, now)
	if err := d.turns.AppendTurns(ctx, userKey, &userTurn, &modelTurn); err != nil {
		return st, nil, errb.Code("persist").Wrapf(err, "persist turn")
	}

	st.Live = append(domain.CloneTurns(st.Live), userTurn, modelTurn)
	st.Display = append(domain.CloneTurns(st.Display), userTurn, modelTurn)

	decision.Count++
	return st, &TurnResult{
		UserTurn:     userTurn,
		ModelTurn:    modelTurn,
		Summarized:   asm.Summarized,
		FunctionCall: call,
		Rate:         decision,
	}, nil
}

func (d *Driver) planStatus(ctx context.Context, userKey string) domain.PlanStatus {
	if d.plans == nil {
		return domain.PlanStatus{}
	}
	rec, err := d.plans.GetPlan(ctx, userKey)
	if err != nil {
		slog.Warn("Failed to read plan status", "user_key", userKey, "error", err)
		return domain.PlanStatus{}
	}
	return rec.Status()
}

// complete runs the model call and, when the reply asks for a function, the
// dispatch and the single follow-up call whose text becomes the reply.
func (d *Driver) complete(ctx context.Context, userKey string, model llm.Model, request []domain.Turn) (string, *llm.FunctionCall, error) {
	persona := llm.ChatPersona(d.bridge.Tools())

	resp, err := Generate(ctx, d.timeout, model, persona, request)
	if err != nil {
		return "", nil, err
	}

	var call *llm.FunctionCall
	if resp.FunctionCall != nil {
		call = resp.FunctionCall
		result := d.bridge.Dispatch(ctx, userKey, *call)
		followUp := append(domain.CloneTurns(request), callTurns(*call, result, d.now())...)

		resp, err = Generate(ctx, d.timeout, model, persona, followUp)
		if err != nil {
			return "", call, err
		}
		if resp.FunctionCall != nil {
			slog.Warn("Ignoring nested function call", "user_key", userKey, "function", resp.FunctionCall.Name)
		}
	}

	if !resp.HasText() {
		return "", call, asModelError(domain.ErrNoCandidates)
	}
	text, _ := resp.Text()
	return text, call, nil
}

// IsRetryable reports whether the user can simply resend the turn.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrModelUnavailable) || errors.Is(err, domain.ErrNoCandidates)
}
