package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Turn is one persisted chat message. Turns are immutable once stored.
type Turn struct {
	ID        int64     `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Parts     []string  `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn builds a single-segment turn.
func NewTurn(role Role, text string, ts time.Time) Turn {
	return Turn{Role: role, Parts: []string{text}, Timestamp: ts}
}

// Text joins the turn's segments.
func (t Turn) Text() string {
	return strings.Join(t.Parts, "")
}

// CloneTurns returns a copy of turns that shares no backing array with the input.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Summary is the compressed stand-in for older turns. One per user.
type Summary struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AsTurn renders the summary as the model turn that leads a request.
func (s Summary) AsTurn() Turn {
	return NewTurn(RoleModel, s.Text, s.Timestamp)
}
