package gsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
)

// Plain-text answers for unmet preconditions. The model relays them.
const (
	MsgNoPlan       = "No plan exists yet. Ask the user to set their dates and times and generate a plan first."
	MsgNeverSynced  = "Tasks have never been synced. Offer to add the plan to Google Tasks first."
	MsgNotConnected = "The user's Google account is not connected. Ask them to sign in again to grant access."
	MsgNoTasks      = "No tasks found."
)

// FetchTasksCapability lets the model read the synced task list.
type FetchTasksCapability struct {
	tasks *TaskService
}

// NewFetchTasks creates the fetch_tasks capability.
func NewFetchTasks(tasks *TaskService) *FetchTasksCapability {
	return &FetchTasksCapability{tasks: tasks}
}

func (c *FetchTasksCapability) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "fetch_tasks",
		Description: "Fetch the user's Goal Planner tasks from Google Tasks, optionally only those due on one day.",
		Params: []llm.ParamSpec{{
			Name:        "due_date",
			Type:        "string",
			Format:      "date",
			Description: "Day the tasks are due, YYYY-MM-DD.",
		}},
	}
}

func (c *FetchTasksCapability) Invoke(ctx context.Context, userKey string, args map[string]any) (any, error) {
	var due *time.Time
	if raw, ok := args["due_date"].(string); ok && raw != "" {
		d, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("due_date %q is not YYYY-MM-DD", raw)
		}
		due = &d
	}

	rec, err := c.tasks.clients.store.GetPlan(ctx, userKey)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Plan.Empty() {
		return MsgNoPlan, nil
	}

	items, err := c.tasks.FetchTasks(ctx, userKey, due)
	if msg, ok := precondition(err); ok {
		return msg, nil
	}
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return MsgNoTasks, nil
	}
	return items, nil
}

// AddOrUpdateTasksCapability lets the model push the current plan to Google Tasks.
type AddOrUpdateTasksCapability struct {
	tasks *TaskService
}

// NewAddOrUpdateTasks creates the add_or_update_tasks capability.
func NewAddOrUpdateTasks(tasks *TaskService) *AddOrUpdateTasksCapability {
	return &AddOrUpdateTasksCapability{tasks: tasks}
}

func (c *AddOrUpdateTasksCapability) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "add_or_update_tasks",
		Description: "Add the current plan to Google Tasks, updating tasks that were synced before.",
	}
}

func (c *AddOrUpdateTasksCapability) Invoke(ctx context.Context, userKey string, _ map[string]any) (any, error) {
	res, err := c.tasks.AddOrUpdateTasks(ctx, userKey)
	if msg, ok := precondition(err); ok {
		return msg, nil
	}
	if err != nil {
		return nil, err
	}
	if failed := res.Failed(); failed > 0 {
		return map[string]any{
			"tasks":  res.Tasks,
			"failed": failed,
			"note":   fmt.Sprintf("%d of %d entries could not be synced; the user can retry.", failed, len(res.Results)),
		}, nil
	}
	return res.Tasks, nil
}

func precondition(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, domain.ErrNoPlan):
		return MsgNoPlan, true
	case errors.Is(err, domain.ErrTasksNeverSynced):
		return MsgNeverSynced, true
	case errors.Is(err, domain.ErrNotConnected):
		return MsgNotConnected, true
	}
	return "", false
}
