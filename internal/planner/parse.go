// Package planner turns the conversation into a structured day-by-day plan.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/goalplan/internal/domain"
)

// ParsePlan decodes the planner's {"plan": [...]} document. Markdown code
// fences around the document are ignored. Invalid JSON or a missing "plan"
// key yields an empty plan and domain.ErrMalformedPlan.
func ParsePlan(text string) (domain.Plan, error) {
	body := stripFences(text)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return domain.Plan{}, fmt.Errorf("%w: %w", domain.ErrMalformedPlan, err)
	}
	raw, ok := doc["plan"]
	if !ok {
		return domain.Plan{}, fmt.Errorf("%w: missing \"plan\" key", domain.ErrMalformedPlan)
	}
	var entries []domain.PlanEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return domain.Plan{}, fmt.Errorf("%w: %w", domain.ErrMalformedPlan, err)
	}
	return domain.Plan{Entries: entries}, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // language tag
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
