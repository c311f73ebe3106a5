package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/coder/websocket"
)

// HistoryStore loads a user's persisted conversation.
type HistoryStore interface {
	ListTurns(ctx context.Context, userKey string, since *time.Time) ([]domain.Turn, error)
	GetLatestSummary(ctx context.Context, userKey string) (*domain.Summary, error)
}

// ModelSource hands out a model for a new session.
type ModelSource interface {
	Acquire(ctx context.Context) (llm.Model, error)
}

// Session is the live conversation of one user. Turns on a session run one
// at a time.
type Session struct {
	UserKey string

	mu         sync.Mutex
	state      State
	model      llm.Model
	lastActive atomic.Int64 // unix nanos, readable without mu
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Update runs fn with exclusive access and keeps the state it returns, also
// when fn fails.
func (s *Session) Update(fn func(model llm.Model, st State) (State, error)) error {
	s.touch()
	defer s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.model, s.state.Clone())
	s.state = next
	return err
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Sessions manages the conversation state and live socket of each user.
type Sessions struct {
	history HistoryStore
	models  ModelSource

	mu     sync.RWMutex
	active map[string]*Session
	conns  map[string]*websocket.Conn
}

// NewSessions creates a session manager.
func NewSessions(history HistoryStore, models ModelSource) *Sessions {
	return &Sessions{
		history: history,
		models:  models,
		active:  make(map[string]*Session),
		conns:   make(map[string]*websocket.Conn),
	}
}

// Get returns the user's session, loading it from the store on first use.
func (m *Sessions) Get(ctx context.Context, userKey string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.active[userKey]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	st, err := LoadState(ctx, m.history, userKey)
	if err != nil {
		return nil, err
	}
	model, err := m.models.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire model: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.active[userKey]; ok {
		return existing, nil
	}
	s = &Session{UserKey: userKey, state: st, model: model}
	s.touch()
	m.active[userKey] = s
	slog.Info("Conversation session loaded",
		"user_key", userKey,
		"live_turns", len(st.Live),
		"display_turns", len(st.Display),
		"has_summary", st.Summary != nil,
	)
	return s, nil
}

// Discard drops the user's in-memory state so the next Get reloads it.
func (m *Sessions) Discard(userKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, userKey)
	slog.Info("Conversation session discarded", "user_key", userKey)
}

// Disconnect discards the user's state and closes the user's socket.
func (m *Sessions) Disconnect(userKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, userKey)
	if conn, ok := m.conns[userKey]; ok {
		_ = conn.Close(websocket.StatusNormalClosure, "signed out")
		delete(m.conns, userKey)
	}
	slog.Info("Conversation session disconnected", "user_key", userKey)
}

// EvictIdle discards sessions idle for longer than ttl that have no open
// socket, returning the evicted user keys.
func (m *Sessions) EvictIdle(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	var evicted []string
	for key, s := range m.active {
		if _, connected := m.conns[key]; connected {
			continue
		}
		if s.idleSince().Before(cutoff) {
			delete(m.active, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// Len returns the number of loaded sessions.
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register records the user's socket. A user has one live conversation, so
// an older socket is closed.
func (m *Sessions) Register(userKey string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.conns[userKey]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.conns[userKey] = conn
	slog.Info("Chat socket registered", "user_key", userKey)
}

// Unregister removes conn if it is still the user's current socket.
func (m *Sessions) Unregister(userKey string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.conns[userKey]; ok && current == conn {
		delete(m.conns, userKey)
		slog.Info("Chat socket unregistered", "user_key", userKey)
	}
}

// Connected returns the user's current socket, if any.
func (m *Sessions) Connected(userKey string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[userKey]
}

// LoadState rebuilds a user's state from the store: display holds every
// turn, live only those after the latest summary. The tail kept in memory at
// summarization time predates the summary, so a reloaded state drops it.
func LoadState(ctx context.Context, history HistoryStore, userKey string) (State, error) {
	summary, err := history.GetLatestSummary(ctx, userKey)
	if err != nil {
		return State{}, fmt.Errorf("load summary: %w", err)
	}
	display, err := history.ListTurns(ctx, userKey, nil)
	if err != nil {
		return State{}, fmt.Errorf("load turns: %w", err)
	}

	st := State{Display: display, Summary: summary}
	if summary == nil {
		st.Live = domain.CloneTurns(display)
		return st, nil
	}
	ts := summary.Timestamp
	if st.Live, err = history.ListTurns(ctx, userKey, &ts); err != nil {
		return State{}, fmt.Errorf("load live turns: %w", err)
	}
	return st, nil
}
