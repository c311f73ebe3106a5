package gsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/samber/oops"
	"google.golang.org/api/calendar/v3"
)

const primaryCalendar = "primary"

// CalendarSync writes plan entries to the user's primary calendar.
type CalendarSync struct {
	clients *Clients
}

// NewCalendarSync creates a calendar sync.
func NewCalendarSync(clients *Clients) *CalendarSync {
	return &CalendarSync{clients: clients}
}

// SyncPlan creates or updates one event per plan entry in the user's
// calendar time zone. Failed entries are reported alongside the rest.
func (s *CalendarSync) SyncPlan(ctx context.Context, userKey string) ([]domain.SyncResult, error) {
	errb := oops.In("gsync").With("user_key", userKey)
	unlock := s.clients.lock(userKey)
	defer unlock()

	rec, err := s.clients.store.GetPlan(ctx, userKey)
	if err != nil {
		return nil, errb.Wrapf(err, "load plan")
	}
	if rec == nil || rec.Plan.Empty() {
		return nil, errb.Code("no_plan").Wrap(domain.ErrNoPlan)
	}
	svc, err := s.clients.Calendar(ctx, userKey)
	if err != nil {
		return nil, errb.Code("client").Wrap(err)
	}

	tz, loc := s.timezone(ctx, svc, userKey)
	results := make([]domain.SyncResult, 0, len(rec.Plan.Entries))
	ids := make(map[string]string, len(rec.Plan.Entries))
	for _, entry := range rec.Plan.Entries {
		result := domain.SyncResult{Date: entry.Date, Task: entry.Task}
		prev := rec.Sync.EventIDs[entry.Key()]
		ev, err := s.upsertEvent(ctx, svc, prev, entry, tz, loc)
		if err != nil {
			slog.Warn("Calendar sync failed", "user_key", userKey, "date", entry.Date, "error", err)
			result.Error = err.Error()
			if prev != "" {
				ids[entry.Key()] = prev
			}
		} else {
			ids[entry.Key()] = ev.Id
			result.ExternalID = ev.Id
			result.Link = ev.HtmlLink
		}
		results = append(results, result)
	}

	sync := domain.SyncIDs{TaskListID: rec.Sync.TaskListID, TaskIDs: rec.Sync.TaskIDs, EventIDs: ids}
	if err := s.clients.store.PutSyncIDs(ctx, userKey, sync); err != nil {
		return results, errb.Code("persist").Wrapf(err, "persist event ids")
	}
	slog.Info("Plan synced to calendar", "user_key", userKey, "entries", len(results), "timezone", tz)
	return results, nil
}

// timezone reads the calendar's zone, falling back to UTC.
func (s *CalendarSync) timezone(ctx context.Context, svc *calendar.Service, userKey string) (string, *time.Location) {
	var setting *calendar.Setting
	err := callGoogle(ctx, func(ctx context.Context) error {
		var err error
		setting, err = svc.Settings.Get("timezone").Context(ctx).Do()
		return err
	})
	if err != nil {
		slog.Warn("Calendar timezone unavailable, using UTC", "user_key", userKey, "error", err)
		return "UTC", time.UTC
	}
	loc, err := time.LoadLocation(setting.Value)
	if err != nil {
		slog.Warn("Unknown calendar timezone, using UTC", "user_key", userKey, "timezone", setting.Value)
		return "UTC", time.UTC
	}
	return setting.Value, loc
}

func (s *CalendarSync) upsertEvent(ctx context.Context, svc *calendar.Service, eventID string, entry domain.PlanEntry, tz string, loc *time.Location) (*calendar.Event, error) {
	start, end, err := entry.Window(loc)
	if err != nil {
		return nil, err
	}
	body := &calendar.Event{
		Summary:     entry.Goal,
		Description: entry.Task,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
	}
	var ev *calendar.Event
	if eventID != "" {
		err := callGoogle(ctx, func(ctx context.Context) error {
			var err error
			ev, err = svc.Events.Patch(primaryCalendar, eventID, body).Context(ctx).Do()
			return err
		})
		if err == nil {
			return ev, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	err = callGoogle(ctx, func(ctx context.Context) error {
		var err error
		ev, err = svc.Events.Insert(primaryCalendar, body).Context(ctx).Do()
		return err
	})
	return ev, err
}
