package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
)

// ErrUnknownFunction is the error text returned for unregistered names.
const ErrUnknownFunction = "unknown function"

// Capability is an external action the model may request by name.
// Preconditions are reported as plain-text output, not as errors.
type Capability interface {
	Spec() llm.ToolSpec
	Invoke(ctx context.Context, userKey string, args map[string]any) (any, error)
}

// Result is what a dispatched call produced. Exactly one of Output and Error is set.
type Result struct {
	Name   string `json:"name"`
	Output any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Bridge is the closed registry of capabilities offered to the model.
type Bridge struct {
	caps  map[string]Capability
	order []string
}

// NewBridge registers caps. Later duplicates replace earlier ones.
func NewBridge(caps ...Capability) *Bridge {
	b := &Bridge{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		name := c.Spec().Name
		if _, dup := b.caps[name]; !dup {
			b.order = append(b.order, name)
		}
		b.caps[name] = c
	}
	return b
}

// Tools returns the declarations to advertise, in registration order.
func (b *Bridge) Tools() []llm.ToolSpec {
	if b == nil {
		return nil
	}
	specs := make([]llm.ToolSpec, 0, len(b.order))
	for _, name := range b.order {
		specs = append(specs, b.caps[name].Spec())
	}
	return specs
}

// Dispatch runs the named capability. It never returns an error: unknown
// names and failures become a Result the model can explain to the user.
func (b *Bridge) Dispatch(ctx context.Context, userKey string, call llm.FunctionCall) Result {
	var c Capability
	if b != nil {
		c = b.caps[call.Name]
	}
	if c == nil {
		slog.Warn("Model requested unknown function", "user_key", userKey, "function", call.Name)
		return Result{Name: call.Name, Error: ErrUnknownFunction}
	}

	out, err := c.Invoke(ctx, userKey, call.Args)
	if err != nil {
		slog.Error("Capability failed", "user_key", userKey, "function", call.Name, "error", err)
		return Result{Name: call.Name, Error: err.Error()}
	}
	slog.Info("Capability invoked", "user_key", userKey, "function", call.Name)
	return Result{Name: call.Name, Output: out}
}

// callTurns renders a call and its result as the two synthetic turns that
// follow the assembled request in the second model call.
func callTurns(call llm.FunctionCall, result Result, ts time.Time) []domain.Turn {
	args, err := json.Marshal(call.Args)
	if err != nil {
		args = []byte("{}")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"name":%q,"error":"unencodable result"}`, call.Name))
	}
	return []domain.Turn{
		domain.NewTurn(domain.RoleModel, fmt.Sprintf("function_call %s %s", call.Name, args), ts),
		domain.NewTurn(domain.RoleUser, "function_result "+string(payload), ts),
	}
}
