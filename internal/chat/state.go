// Package chat implements the conversation context manager: per-user
// conversation state, context assembly with summarization, the turn driver,
// and its HTTP and WebSocket surfaces.
package chat

import (
	"github.com/ashureev/goalplan/internal/domain"
)

// State is the conversation state of one user session. It is a value: the
// driver takes a State and returns the State to keep.
type State struct {
	// Live holds the turns sent to the model: those after the latest summary.
	Live []domain.Turn `json:"live"`
	// Display holds the full history shown to the user.
	Display []domain.Turn `json:"display"`
	// Summary is the latest summary, if any.
	Summary *domain.Summary `json:"summary,omitempty"`
	// Params are the planning parameters chosen in this session.
	Params domain.PlanningParams `json:"params"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{
		Live:    domain.CloneTurns(s.Live),
		Display: domain.CloneTurns(s.Display),
		Params:  s.Params,
	}
	if s.Summary != nil {
		sum := *s.Summary
		out.Summary = &sum
	}
	return out
}

// Adopt applies an assembly that may have summarized history. The pending
// user turn at the end of a.Live is not part of the state until persisted.
func (s State) Adopt(a Assembly) State {
	if !a.Summarized {
		return s
	}
	s.Summary = a.Summary
	s.Live = domain.CloneTurns(a.Live[:len(a.Live)-1])
	return s
}
