package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// PlanEntry is one scheduled day of a plan.
type PlanEntry struct {
	Date      string `json:"date"`
	Task      string `json:"task"`
	Goal      string `json:"goal"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Key identifies an entry for external sync bookkeeping.
func (e PlanEntry) Key() string {
	return e.Date + "|" + e.Task
}

// Window resolves the entry's start and end instants in loc.
func (e PlanEntry) Window(loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start of %s: %w", e.Date, err)
	}
	end, err := time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end of %s: %w", e.Date, err)
	}
	return start, end, nil
}

// Plan is the ordered day-by-day breakdown of a goal.
type Plan struct {
	Entries []PlanEntry
}

type planWire struct {
	Plan []PlanEntry `json:"plan"`
}

// MarshalJSON encodes the plan in the {"plan": [...]} wire format.
func (p Plan) MarshalJSON() ([]byte, error) {
	entries := p.Entries
	if entries == nil {
		entries = []PlanEntry{}
	}
	return json.Marshal(planWire{Plan: entries})
}

// UnmarshalJSON decodes the {"plan": [...]} wire format.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Entries = w.Plan
	return nil
}

// Empty reports whether the plan has no entries.
func (p Plan) Empty() bool {
	return len(p.Entries) == 0
}

// SyncIDs records the external identifiers created when a plan was synced.
type SyncIDs struct {
	TaskListID string            `json:"task_list_id,omitempty"`
	TaskIDs    map[string]string `json:"task_ids,omitempty"`
	EventIDs   map[string]string `json:"event_ids,omitempty"`
}

// PlanRecord is the persisted plan of a user.
type PlanRecord struct {
	UserKey   string
	Plan      Plan
	Sync      SyncIDs
	UpdatedAt time.Time
}

// Status summarizes the record for metadata injection.
func (r *PlanRecord) Status() PlanStatus {
	if r == nil {
		return PlanStatus{}
	}
	return PlanStatus{
		Generated:      !r.Plan.Empty(),
		TasksSynced:    len(r.Sync.TaskIDs) > 0,
		CalendarSynced: len(r.Sync.EventIDs) > 0,
	}
}

// PlanStatus tells the model what has already happened to the plan.
type PlanStatus struct {
	Generated      bool `json:"generated"`
	TasksSynced    bool `json:"tasks_synced"`
	CalendarSynced bool `json:"calendar_synced"`
}

// PlanningParams are the date range and daily time window chosen by the user.
type PlanningParams struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Complete reports whether every parameter is set.
func (p PlanningParams) Complete() bool {
	return p.StartDate != nil && p.EndDate != nil && p.StartTime != nil && p.EndTime != nil
}

// TaskItem is the shape returned by task-list capabilities.
type TaskItem struct {
	Title  string `json:"title"`
	Due    string `json:"due,omitempty"`
	Status string `json:"status,omitempty"`
	Notes  string `json:"notes,omitempty"`
	Link   string `json:"link,omitempty"`
}

// SyncResult reports the outcome of syncing one plan entry.
type SyncResult struct {
	Date       string `json:"date"`
	Task       string `json:"task"`
	ExternalID string `json:"external_id,omitempty"`
	Link       string `json:"link,omitempty"`
	Error      string `json:"error,omitempty"`
}
