package gsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/goalplan/internal/domain"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

const testUser = "a@example.com"

type memStore struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	plans  map[string]*domain.PlanRecord
	tokens []string
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*domain.User{}, plans: map[string]*domain.PlanRecord{}}
}

func (s *memStore) connect(userKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userKey] = &domain.User{Key: userKey, TokenJSON: `{"access_token":"at","token_type":"Bearer"}`}
}

func (s *memStore) putPlan(userKey string, entries ...domain.PlanEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[userKey] = &domain.PlanRecord{UserKey: userKey, Plan: domain.Plan{Entries: entries}}
}

func (s *memStore) GetUser(_ context.Context, userKey string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userKey]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) UpdateUserToken(_ context.Context, userKey, tokenJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, tokenJSON)
	if u, ok := s.users[userKey]; ok {
		u.TokenJSON = tokenJSON
	}
	return nil
}

func (s *memStore) GetPlan(_ context.Context, userKey string) (*domain.PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.plans[userKey]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) PutSyncIDs(_ context.Context, userKey string, ids domain.SyncIDs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.plans[userKey]
	if !ok {
		return fmt.Errorf("no plan for %s", userKey)
	}
	rec.Sync = ids
	return nil
}

func (s *memStore) syncIDs(userKey string) domain.SyncIDs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plans[userKey].Sync
}

// fakeGoogle serves the subset of the Tasks and Calendar REST APIs sync uses.
type fakeGoogle struct {
	mu        sync.Mutex
	seq       int
	lists     map[string]string
	tasks     map[string]map[string]map[string]any
	events    map[string]map[string]any
	timezone  string
	failTitle string
	flaky     int
	calls     []string
}

func newFakeGoogle(t *testing.T) (*fakeGoogle, *httptest.Server) {
	t.Helper()
	g := &fakeGoogle{
		lists:  map[string]string{},
		tasks:  map[string]map[string]map[string]any{},
		events: map[string]map[string]any{},
	}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *fakeGoogle) options(srv *httptest.Server) OptionsFunc {
	return func(oauth2.TokenSource) []option.ClientOption {
		return []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithHTTPClient(srv.Client()),
		}
	}
}

func (g *fakeGoogle) countCalls(method, prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, method+" "+prefix) {
			n++
		}
	}
	return n
}

func (g *fakeGoogle) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%d", prefix, g.seq)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGoogleError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func decodeObject(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body == nil {
		body = map[string]any{}
	}
	return body
}

func (g *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	path := r.URL.Path
	g.calls = append(g.calls, r.Method+" "+path)

	if g.flaky > 0 {
		g.flaky--
		writeGoogleError(w, http.StatusServiceUnavailable, "backend busy")
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && path == "/users/me/settings/timezone":
		if g.timezone == "" {
			writeGoogleError(w, http.StatusNotFound, "setting not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "timezone", "value": g.timezone})

	case path == "/calendars/primary/events" && r.Method == http.MethodPost:
		ev := decodeObject(r)
		id := g.nextID("ev")
		ev["id"] = id
		ev["htmlLink"] = "https://calendar.example/" + id
		g.events[id] = ev
		writeJSON(w, http.StatusOK, ev)

	case strings.HasPrefix(path, "/calendars/primary/events/") && r.Method == http.MethodPatch:
		id := parts[len(parts)-1]
		ev, ok := g.events[id]
		if !ok {
			writeGoogleError(w, http.StatusNotFound, "event not found")
			return
		}
		for k, v := range decodeObject(r) {
			ev[k] = v
		}
		writeJSON(w, http.StatusOK, ev)

	case path == "/tasks/v1/users/@me/lists" && r.Method == http.MethodPost:
		body := decodeObject(r)
		id := g.nextID("list")
		g.lists[id] = fmt.Sprint(body["title"])
		g.tasks[id] = map[string]map[string]any{}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "title": body["title"]})

	case strings.HasPrefix(path, "/tasks/v1/users/@me/lists/") && r.Method == http.MethodGet:
		id := parts[len(parts)-1]
		title, ok := g.lists[id]
		if !ok {
			writeGoogleError(w, http.StatusNotFound, "list not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "title": title})

	case len(parts) >= 5 && parts[0] == "tasks" && parts[2] == "lists" && parts[4] == "tasks":
		g.serveTasks(w, r, parts[3], parts[5:])

	default:
		writeGoogleError(w, http.StatusNotFound, "no route for "+r.Method+" "+path)
	}
}

func (g *fakeGoogle) serveTasks(w http.ResponseWriter, r *http.Request, listID string, rest []string) {
	tasks, ok := g.tasks[listID]
	if !ok {
		writeGoogleError(w, http.StatusNotFound, "list not found")
		return
	}
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		task := decodeObject(r)
		if g.failTitle != "" && task["title"] == g.failTitle {
			writeGoogleError(w, http.StatusBadRequest, "invalid task")
			return
		}
		id := g.nextID("task")
		task["id"] = id
		task["status"] = "needsAction"
		task["selfLink"] = "https://tasks.example/" + id
		tasks[id] = task
		writeJSON(w, http.StatusOK, task)

	case len(rest) == 0 && r.Method == http.MethodGet:
		q := r.URL.Query()
		items := make([]map[string]any, 0, len(tasks))
		for _, task := range tasks {
			due, _ := task["due"].(string)
			if lo := q.Get("dueMin"); lo != "" && due < lo {
				continue
			}
			if hi := q.Get("dueMax"); hi != "" && due >= hi {
				continue
			}
			items = append(items, task)
		}
		sort.Slice(items, func(i, j int) bool {
			return fmt.Sprint(items[i]["id"]) < fmt.Sprint(items[j]["id"])
		})
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case len(rest) == 1 && r.Method == http.MethodPatch:
		task, ok := tasks[rest[0]]
		if !ok {
			writeGoogleError(w, http.StatusNotFound, "task not found")
			return
		}
		for k, v := range decodeObject(r) {
			task[k] = v
		}
		writeJSON(w, http.StatusOK, task)

	default:
		writeGoogleError(w, http.StatusNotFound, "no task route")
	}
}

type fixture struct {
	store    *memStore
	google   *fakeGoogle
	clients  *Clients
	tasks    *TaskService
	calendar *CalendarSync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, srv := newFakeGoogle(t)
	store := newMemStore()
	clients := NewClients(&oauth2.Config{}, store, g.options(srv))
	return &fixture{
		store:    store,
		google:   g,
		clients:  clients,
		tasks:    NewTaskService(clients),
		calendar: NewCalendarSync(clients),
	}
}

var testEntries = []domain.PlanEntry{
	{Date: "2024-06-01", Task: "Run 3km easy", Goal: "Run a 10K", StartTime: "07:00:00", EndTime: "08:00:00"},
	{Date: "2024-06-02", Task: "Rest and stretch", Goal: "Run a 10K", StartTime: "07:00:00", EndTime: "07:30:00"},
}
