package gsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/samber/oops"
	"google.golang.org/api/tasks/v1"
)

// TaskListTitle names the list that holds synced plan entries.
const TaskListTitle = "Goal Planner"

// TaskSync is the outcome of pushing a plan to Google Tasks.
type TaskSync struct {
	Tasks   []domain.TaskItem   `json:"tasks"`
	Results []domain.SyncResult `json:"results"`
}

// Failed counts entries that could not be synced.
func (s TaskSync) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// TaskService reads and writes the user's Goal Planner task list.
type TaskService struct {
	clients *Clients
}

// NewTaskService creates a task service.
func NewTaskService(clients *Clients) *TaskService {
	return &TaskService{clients: clients}
}

// FetchTasks lists the tasks of the synced list, optionally only those due
// on the given day.
func (s *TaskService) FetchTasks(ctx context.Context, userKey string, due *time.Time) ([]domain.TaskItem, error) {
	errb := oops.In("gsync").With("user_key", userKey)
	rec, err := s.clients.store.GetPlan(ctx, userKey)
	if err != nil {
		return nil, errb.Wrapf(err, "load plan")
	}
	if rec == nil || rec.Sync.TaskListID == "" {
		return nil, errb.Code("never_synced").Wrap(domain.ErrTasksNeverSynced)
	}
	svc, err := s.clients.Tasks(ctx, userKey)
	if err != nil {
		return nil, errb.Code("client").Wrap(err)
	}

	var items []domain.TaskItem
	call := svc.Tasks.List(rec.Sync.TaskListID).ShowCompleted(true).MaxResults(100)
	if due != nil {
		day := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
		call = call.DueMin(day.Format(time.RFC3339)).DueMax(day.Add(24 * time.Hour).Format(time.RFC3339))
	}
	err = callGoogle(ctx, func(ctx context.Context) error {
		items = items[:0]
		return call.Pages(ctx, func(page *tasks.Tasks) error {
			for _, t := range page.Items {
				items = append(items, toTaskItem(t))
			}
			return nil
		})
	})
	if err != nil {
		return nil, errb.Code("list_tasks").Wrapf(err, "list tasks")
	}
	return items, nil
}

// AddOrUpdateTasks creates the Goal Planner list on first use and inserts or
// patches one task per plan entry. Entries that fail are reported and the
// rest are kept; ids of synced entries are persisted.
func (s *TaskService) AddOrUpdateTasks(ctx context.Context, userKey string) (TaskSync, error) {
	errb := oops.In("gsync").With("user_key", userKey)
	unlock := s.clients.lock(userKey)
	defer unlock()

	rec, err := s.clients.store.GetPlan(ctx, userKey)
	if err != nil {
		return TaskSync{}, errb.Wrapf(err, "load plan")
	}
	if rec == nil || rec.Plan.Empty() {
		return TaskSync{}, errb.Code("no_plan").Wrap(domain.ErrNoPlan)
	}
	svc, err := s.clients.Tasks(ctx, userKey)
	if err != nil {
		return TaskSync{}, errb.Code("client").Wrap(err)
	}

	listID, err := s.ensureTaskList(ctx, svc, rec.Sync.TaskListID)
	if err != nil {
		return TaskSync{}, errb.Code("task_list").Wrapf(err, "prepare task list")
	}
	if listID != rec.Sync.TaskListID {
		rec.Sync.TaskIDs = nil
	}

	out := TaskSync{}
	ids := make(map[string]string, len(rec.Plan.Entries))
	for _, entry := range rec.Plan.Entries {
		result := domain.SyncResult{Date: entry.Date, Task: entry.Task}
		task, err := s.upsertTask(ctx, svc, listID, rec.Sync.TaskIDs[entry.Key()], entry)
		if err != nil {
			slog.Warn("Task sync failed", "user_key", userKey, "date", entry.Date, "error", err)
			result.Error = err.Error()
			if prev, ok := rec.Sync.TaskIDs[entry.Key()]; ok {
				ids[entry.Key()] = prev
			}
		} else {
			ids[entry.Key()] = task.Id
			result.ExternalID = task.Id
			result.Link = task.SelfLink
			out.Tasks = append(out.Tasks, toTaskItem(task))
		}
		out.Results = append(out.Results, result)
	}

	sync := domain.SyncIDs{TaskListID: listID, TaskIDs: ids, EventIDs: rec.Sync.EventIDs}
	if err := s.clients.store.PutSyncIDs(ctx, userKey, sync); err != nil {
		return out, errb.Code("persist").Wrapf(err, "persist task ids")
	}
	slog.Info("Plan synced to tasks", "user_key", userKey, "entries", len(out.Results), "failed", out.Failed())
	return out, nil
}

func (s *TaskService) ensureTaskList(ctx context.Context, svc *tasks.Service, id string) (string, error) {
	if id != "" {
		err := callGoogle(ctx, func(ctx context.Context) error {
			_, err := svc.Tasklists.Get(id).Context(ctx).Do()
			return err
		})
		if err == nil {
			return id, nil
		}
		if !isNotFound(err) {
			return "", err
		}
	}
	var list *tasks.TaskList
	err := callGoogle(ctx, func(ctx context.Context) error {
		var err error
		list, err = svc.Tasklists.Insert(&tasks.TaskList{Title: TaskListTitle}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return list.Id, nil
}

func (s *TaskService) upsertTask(ctx context.Context, svc *tasks.Service, listID, taskID string, entry domain.PlanEntry) (*tasks.Task, error) {
	body := toTask(entry)
	var task *tasks.Task
	if taskID != "" {
		err := callGoogle(ctx, func(ctx context.Context) error {
			var err error
			task, err = svc.Tasks.Patch(listID, taskID, body).Context(ctx).Do()
			return err
		})
		if err == nil {
			return task, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	err := callGoogle(ctx, func(ctx context.Context) error {
		var err error
		task, err = svc.Tasks.Insert(listID, body).Context(ctx).Do()
		return err
	})
	return task, err
}

func toTask(entry domain.PlanEntry) *tasks.Task {
	t := &tasks.Task{
		Title: entry.Task,
		Notes: fmt.Sprintf("Goal: %s\nScheduled %s-%s", entry.Goal, entry.StartTime, entry.EndTime),
	}
	if day, err := time.Parse(domain.DateLayout, entry.Date); err == nil {
		t.Due = day.UTC().Format(time.RFC3339)
	}
	return t
}

func toTaskItem(t *tasks.Task) domain.TaskItem {
	item := domain.TaskItem{
		Title:  t.Title,
		Status: t.Status,
		Notes:  t.Notes,
		Link:   t.SelfLink,
	}
	if due, err := time.Parse(time.RFC3339, t.Due); err == nil {
		item.Due = due.Format(domain.DateLayout)
	}
	return item
}
