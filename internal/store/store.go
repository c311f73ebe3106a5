// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
)

// Repository defines the interface for persisting users, chat turns,
// summaries, and plans.
type Repository interface {
	// GetUser retrieves a user by key. Returns nil, nil when absent.
	GetUser(ctx context.Context, userKey string) (*domain.User, error)

	// UpsertUser creates or updates a user record, including its token.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateUserToken replaces the stored OAuth token of a user.
	UpdateUserToken(ctx context.Context, userKey, tokenJSON string) error

	// AppendTurns persists turns in order inside one transaction. Either all
	// turns are stored or none are. IDs are assigned on the passed slice.
	AppendTurns(ctx context.Context, userKey string, turns ...*domain.Turn) error

	// ListTurns returns a user's turns in sequence order. When since is set,
	// only turns with a timestamp strictly after it are returned.
	ListTurns(ctx context.Context, userKey string, since *time.Time) ([]domain.Turn, error)

	// CountUserTurnsSince counts user-role turns with timestamp >= since.
	CountUserTurnsSince(ctx context.Context, userKey string, since time.Time) (int, error)

	// DeleteTurns removes every turn of a user.
	DeleteTurns(ctx context.Context, userKey string) error

	// GetLatestSummary returns the user's summary or nil.
	GetLatestSummary(ctx context.Context, userKey string) (*domain.Summary, error)

	// PutSummary stores the summary, replacing any previous one.
	PutSummary(ctx context.Context, userKey string, summary domain.Summary) error

	// DeleteSummary removes the user's summary.
	DeleteSummary(ctx context.Context, userKey string) error

	// DeleteConversation removes turns and summary together.
	DeleteConversation(ctx context.Context, userKey string) error

	// GetPlan returns the user's plan record or nil.
	GetPlan(ctx context.Context, userKey string) (*domain.PlanRecord, error)

	// PutPlan replaces the user's plan. The task list id survives; per-entry
	// sync ids are cleared because they referred to the old entries.
	PutPlan(ctx context.Context, userKey string, plan domain.Plan) error

	// PutSyncIDs stores the external identifiers of the current plan.
	PutSyncIDs(ctx context.Context, userKey string, ids domain.SyncIDs) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
