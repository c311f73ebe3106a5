package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goalplan/internal/chat"
	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/samber/oops"
)

// PlanWriter persists generated plans.
type PlanWriter interface {
	PutPlan(ctx context.Context, userKey string, plan domain.Plan) error
}

// Generator asks the planner persona for a plan covering the session's
// planning parameters, using the conversation as context.
type Generator struct {
	assembler *chat.Assembler
	plans     PlanWriter
	timeout   time.Duration
	now       func() time.Time
}

// NewGenerator creates a plan generator. The assembler is shared with the
// chat driver so plan requests obey the same context budget.
func NewGenerator(assembler *chat.Assembler, plans PlanWriter, timeout time.Duration) *Generator {
	return &Generator{assembler: assembler, plans: plans, timeout: timeout, now: time.Now}
}

// Prompt is the instruction sent after the conversation.
func Prompt(p domain.PlanningParams) string {
	return fmt.Sprintf(
		"Using the previous messages as context. Generate a detailed plan starting from date %s to %s scheduled each day from start_time %s to %s",
		p.StartDate.Format(domain.DateLayout), p.EndDate.Format(domain.DateLayout),
		p.StartTime.Format(domain.TimeLayout), p.EndTime.Format(domain.TimeLayout),
	)
}

// Generate produces and stores a plan. The prompt turn is not part of the
// conversation; only a summary produced while assembling is kept in the
// returned state.
func (g *Generator) Generate(ctx context.Context, userKey string, model llm.Model, st chat.State) (chat.State, domain.Plan, error) {
	errb := oops.In("planner").With("user_key", userKey)
	if userKey == "" {
		return st, domain.Plan{}, errb.Code("unauthenticated").Wrap(domain.ErrUnauthenticated)
	}
	if !st.Params.Complete() {
		return st, domain.Plan{}, errb.Code("params_incomplete").Wrap(domain.ErrPlanningParamsIncomplete)
	}

	prompt := domain.NewTurn(domain.RoleUser, Prompt(st.Params), g.now())
	live := append(domain.CloneTurns(st.Live), prompt)

	asm, err := g.assembler.Assemble(ctx, model, userKey, live, st.Summary)
	if err != nil {
		return st, domain.Plan{}, errb.Code("assemble").Wrapf(err, "assemble context")
	}
	st = st.Adopt(asm)

	resp, err := chat.Generate(ctx, g.timeout, model, llm.PlannerPersona(), asm.Request)
	if err != nil {
		return st, domain.Plan{}, errb.Code("model_call").Wrapf(err, "planner call")
	}
	text, err := resp.Text()
	if err != nil {
		return st, domain.Plan{}, errb.Code("no_candidates").Wrapf(err, "planner call")
	}

	plan, err := ParsePlan(text)
	if err != nil {
		slog.Warn("Planner returned malformed plan", "user_key", userKey, "error", err, "length", len(text))
		return st, domain.Plan{}, errb.Code("malformed_plan").Wrap(err)
	}
	if err := g.plans.PutPlan(ctx, userKey, plan); err != nil {
		return st, plan, errb.Code("persist").Wrapf(err, "persist plan")
	}
	slog.Info("Plan generated", "user_key", userKey, "entries", len(plan.Entries), "summarized", asm.Summarized)
	return st, plan, nil
}
