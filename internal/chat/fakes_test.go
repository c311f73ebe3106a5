package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/ashureev/goalplan/internal/ratelimit"
)

var errAppend = errors.New("disk full")

// scriptedModel replays canned responses and records every call.
type scriptedModel struct {
	mu       sync.Mutex
	tokens   func(turns []domain.Turn) int
	replies  []*llm.Response
	genErr   error
	countErr error
	calls    []generateCall
}

type generateCall struct {
	Persona llm.Persona
	Turns   []domain.Turn
}

func (m *scriptedModel) CountTokens(_ context.Context, turns []domain.Turn) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	if m.tokens != nil {
		return m.tokens(turns), nil
	}
	return 10 * len(turns), nil
}

func (m *scriptedModel) Generate(_ context.Context, persona llm.Persona, turns []domain.Turn) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, generateCall{Persona: persona, Turns: domain.CloneTurns(turns)})
	if m.genErr != nil {
		return nil, m.genErr
	}
	if len(m.replies) == 0 {
		return &llm.Response{Candidates: []string{"ok"}}, nil
	}
	resp := m.replies[0]
	m.replies = m.replies[1:]
	return resp, nil
}

func (m *scriptedModel) Calls() []generateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generateCall(nil), m.calls...)
}

func textReply(s string) *llm.Response {
	return &llm.Response{Candidates: []string{s}}
}

// memStore is an in-memory repository for the chat package.
type memStore struct {
	mu        sync.Mutex
	turns     map[string][]domain.Turn
	summaries map[string]domain.Summary
	plans     map[string]*domain.PlanRecord
	nextID    int64
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{
		turns:     make(map[string][]domain.Turn),
		summaries: make(map[string]domain.Summary),
		plans:     make(map[string]*domain.PlanRecord),
	}
}

func (s *memStore) AppendTurns(_ context.Context, userKey string, turns ...*domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	for _, t := range turns {
		s.nextID++
		t.ID = s.nextID
		s.turns[userKey] = append(s.turns[userKey], *t)
	}
	return nil
}

func (s *memStore) ListTurns(_ context.Context, userKey string, since *time.Time) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Turn
	for _, t := range s.turns[userKey] {
		if since == nil || t.Timestamp.After(*since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) CountUserTurnsSince(_ context.Context, userKey string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.turns[userKey] {
		if t.Role == domain.RoleUser && !t.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetLatestSummary(_ context.Context, userKey string) (*domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum, ok := s.summaries[userKey]; ok {
		return &sum, nil
	}
	return nil, nil
}

func (s *memStore) PutSummary(_ context.Context, userKey string, summary domain.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[userKey] = summary
	return nil
}

func (s *memStore) DeleteSummary(_ context.Context, userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, userKey)
	return nil
}

func (s *memStore) DeleteConversation(_ context.Context, userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, userKey)
	delete(s.turns, userKey)
	return nil
}

func (s *memStore) GetPlan(_ context.Context, userKey string) (*domain.PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plans[userKey], nil
}

func (s *memStore) stored(userKey string) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneTurns(s.turns[userKey])
}

// testClock advances by a millisecond on every read so timestamps are
// strictly increasing.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// staticModels hands out one model to every session.
type staticModels struct{ model llm.Model }

func (s staticModels) Acquire(context.Context) (llm.Model, error) { return s.model, nil }

func newTestDriver(store *memStore, clock *testClock, cfg AssemblerConfig, caps ...Capability) *Driver {
	asm := NewAssembler(store, NewSummarizer(time.Second), cfg).WithClock(clock.Now)
	return NewDriver(DriverDeps{
		Limiter:   ratelimit.New(store, 10, time.Hour).WithClock(clock.Now),
		Assembler: asm,
		Bridge:    NewBridge(caps...),
		Turns:     store,
		Plans:     store,
		Timeout:   time.Second,
	}).WithClock(clock.Now)
}

// seedTurns stores n alternating user/model turns and returns them.
func seedTurns(store *memStore, clock *testClock, userKey string, n int) []domain.Turn {
	for i := 0; i < n; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleModel
		}
		t := domain.NewTurn(role, turnText(i), clock.Now())
		_ = store.AppendTurns(context.Background(), userKey, &t)
	}
	return store.stored(userKey)
}

func turnText(i int) string {
	return "msg-" + string(rune('a'+i/10)) + string(rune('0'+i%10))
}
