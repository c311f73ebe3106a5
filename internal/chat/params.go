package chat

import (
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/domain"
)

// ParamsPayload is the wire form of the planning parameters. Empty fields
// clear the corresponding parameter.
type ParamsPayload struct {
	StartDate string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartTime string `json:"start_time,omitempty" validate:"omitempty,datetime=15:04:05"`
	EndTime   string `json:"end_time,omitempty" validate:"omitempty,datetime=15:04:05"`
}

// ParseParams converts a payload to planning parameters and checks that each
// range is ordered.
func ParseParams(p ParamsPayload) (domain.PlanningParams, error) {
	var out domain.PlanningParams
	var err error
	if out.StartDate, err = parseOptional(domain.DateLayout, p.StartDate, "start_date"); err != nil {
		return out, err
	}
	if out.EndDate, err = parseOptional(domain.DateLayout, p.EndDate, "end_date"); err != nil {
		return out, err
	}
	if out.StartTime, err = parseOptional(domain.TimeLayout, p.StartTime, "start_time"); err != nil {
		return out, err
	}
	if out.EndTime, err = parseOptional(domain.TimeLayout, p.EndTime, "end_time"); err != nil {
		return out, err
	}

	if out.StartDate != nil && out.EndDate != nil && out.EndDate.Before(*out.StartDate) {
		return out, api.BadRequest("end_date must not be before start_date")
	}
	if out.StartTime != nil && out.EndTime != nil && !out.EndTime.After(*out.StartTime) {
		return out, api.BadRequest("end_time must be after start_time")
	}
	return out, nil
}

// FormatParams converts planning parameters to their wire form.
func FormatParams(p domain.PlanningParams) ParamsPayload {
	return ParamsPayload{
		StartDate: formatOptional(domain.DateLayout, p.StartDate),
		EndDate:   formatOptional(domain.DateLayout, p.EndDate),
		StartTime: formatOptional(domain.TimeLayout, p.StartTime),
		EndTime:   formatOptional(domain.TimeLayout, p.EndTime),
	}
}

func parseOptional(layout, value, field string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return nil, api.BadRequest("invalid %s %q", field, value)
	}
	return &t, nil
}

func formatOptional(layout string, t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}
