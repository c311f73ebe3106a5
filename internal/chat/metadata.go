package chat

import (
	"fmt"
	"strings"

	"github.com/ashureev/goalplan/internal/domain"
)

// InjectMetadata appends the planner state to the user's text. The suffix is
// stored with the turn, so the model sees the state that held when it was sent.
func InjectMetadata(text string, params domain.PlanningParams, status domain.PlanStatus) string {
	var b strings.Builder
	b.WriteString(text)
	if params.StartDate != nil && params.EndDate != nil {
		fmt.Fprintf(&b, "\tstart_date:%s, end_date:%s",
			params.StartDate.Format(domain.DateLayout), params.EndDate.Format(domain.DateLayout))
	}
	if params.StartTime != nil && params.EndTime != nil {
		fmt.Fprintf(&b, "\tstart_time:%s, end_time:%s",
			params.StartTime.Format(domain.TimeLayout), params.EndTime.Format(domain.TimeLayout))
	}
	fmt.Fprintf(&b, "\tplan_status:%s, tasks_synced:%t, calendar_synced:%t",
		planState(status), status.TasksSynced, status.CalendarSynced)
	return b.String()
}

func planState(s domain.PlanStatus) string {
	if s.Generated {
		return "generated"
	}
	return "none"
}
