// Package gsync pushes plans to Google Calendar and Google Tasks and exposes
// the task capabilities the chat model may call.
package gsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"
)

// Scopes are the Google scopes sync needs in addition to sign-in.
var Scopes = []string{calendar.CalendarScope, tasks.TasksScope}

// Store is the part of the repository sync reads and writes.
type Store interface {
	GetUser(ctx context.Context, userKey string) (*domain.User, error)
	UpdateUserToken(ctx context.Context, userKey, tokenJSON string) error
	GetPlan(ctx context.Context, userKey string) (*domain.PlanRecord, error)
	PutSyncIDs(ctx context.Context, userKey string, ids domain.SyncIDs) error
}

// OptionsFunc returns the client options for a user's token source.
type OptionsFunc func(ts oauth2.TokenSource) []option.ClientOption

// Clients builds per-user Google API clients from the stored credential.
type Clients struct {
	oauth   *oauth2.Config
	store   Store
	options OptionsFunc
	locks   sync.Map // user key -> *sync.Mutex
}

// NewClients creates the client factory. A nil options func authenticates
// with the user's token source.
func NewClients(oauth *oauth2.Config, store Store, options OptionsFunc) *Clients {
	if options == nil {
		options = func(ts oauth2.TokenSource) []option.ClientOption {
			return []option.ClientOption{option.WithTokenSource(ts)}
		}
	}
	return &Clients{oauth: oauth, store: store, options: options}
}

// lock serializes sync runs of one user so id bookkeeping is not lost.
func (c *Clients) lock(userKey string) func() {
	v, _ := c.locks.LoadOrStore(userKey, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Clients) tokenSource(ctx context.Context, userKey string) (oauth2.TokenSource, error) {
	user, err := c.store.GetUser(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.HasCredential() {
		return nil, domain.ErrNotConnected
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(user.TokenJSON), &tok); err != nil {
		return nil, fmt.Errorf("%w: stored token unreadable: %w", domain.ErrNotConnected, err)
	}
	base := c.oauth.TokenSource(context.WithoutCancel(ctx), &tok)
	return oauth2.ReuseTokenSource(&tok, &savingTokenSource{
		base:    base,
		store:   c.store,
		userKey: userKey,
		last:    tok.AccessToken,
	}), nil
}

// Tasks returns a Google Tasks client for the user.
func (c *Clients) Tasks(ctx context.Context, userKey string) (*tasks.Service, error) {
	ts, err := c.tokenSource(ctx, userKey)
	if err != nil {
		return nil, err
	}
	svc, err := tasks.NewService(ctx, c.options(ts)...)
	if err != nil {
		return nil, fmt.Errorf("create tasks client: %w", err)
	}
	return svc, nil
}

// Calendar returns a Google Calendar client for the user.
func (c *Clients) Calendar(ctx context.Context, userKey string) (*calendar.Service, error) {
	ts, err := c.tokenSource(ctx, userKey)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, c.options(ts)...)
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	return svc, nil
}

// savingTokenSource persists refreshed tokens so the next request starts
// from a valid access token.
type savingTokenSource struct {
	base    oauth2.TokenSource
	store   Store
	userKey string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken
	raw, err := json.Marshal(tok)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.store.UpdateUserToken(ctx, s.userKey, string(raw))
	}
	if err != nil {
		slog.Warn("Failed to persist refreshed token", "user_key", s.userKey, "error", err)
	}
	return tok, nil
}

// callGoogle runs fn, retrying rate limits and server errors with backoff.
func callGoogle(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
