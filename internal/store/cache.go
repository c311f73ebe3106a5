package store

import (
	"context"
	"strconv"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type queryKind string

const (
	kindTurns   queryKind = "turns"
	kindCount   queryKind = "count"
	kindSummary queryKind = "summary"
	kindPlan    queryKind = "plan"
)

type cacheKey struct {
	userKey string
	kind    queryKind
	arg     string
}

// CachedRepository is a read-through cache over a Repository. Entries are
// keyed by (user, query kind) and every write drops the written user's
// entries, so staleness is bounded by the TTL only for writes made by other
// processes.
type CachedRepository struct {
	Repository
	cache *expirable.LRU[cacheKey, any]
}

// NewCachedRepository wraps repo with an LRU of the given size and TTL.
func NewCachedRepository(repo Repository, size int, ttl time.Duration) *CachedRepository {
	if size <= 0 {
		size = 1024
	}
	return &CachedRepository{
		Repository: repo,
		cache:      expirable.NewLRU[cacheKey, any](size, nil, ttl),
	}
}

// Invalidate drops every cached entry of a user.
func (c *CachedRepository) Invalidate(userKey string) {
	for _, k := range c.cache.Keys() {
		if k.userKey == userKey {
			c.cache.Remove(k)
		}
	}
}

func (c *CachedRepository) invalidateKind(userKey string, kinds ...queryKind) {
	for _, k := range c.cache.Keys() {
		if k.userKey != userKey {
			continue
		}
		for _, kind := range kinds {
			if k.kind == kind {
				c.cache.Remove(k)
				break
			}
		}
	}
}

// ListTurns returns cached turns when present. Callers receive a copy.
func (c *CachedRepository) ListTurns(ctx context.Context, userKey string, since *time.Time) ([]domain.Turn, error) {
	arg := ""
	if since != nil {
		arg = strconv.FormatInt(since.UnixNano(), 10)
	}
	key := cacheKey{userKey: userKey, kind: kindTurns, arg: arg}
	if v, ok := c.cache.Get(key); ok {
		return domain.CloneTurns(v.([]domain.Turn)), nil
	}
	turns, err := c.Repository.ListTurns(ctx, userKey, since)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, domain.CloneTurns(turns))
	return turns, nil
}

// CountUserTurnsSince caches the count per user and window length. The
// window start moves with the clock, so since is keyed by its distance from
// now rounded to the second rather than by its absolute value.
func (c *CachedRepository) CountUserTurnsSince(ctx context.Context, userKey string, since time.Time) (int, error) {
	window := time.Since(since).Round(time.Second)
	key := cacheKey{userKey: userKey, kind: kindCount, arg: window.String()}
	if v, ok := c.cache.Get(key); ok {
		return v.(int), nil
	}
	n, err := c.Repository.CountUserTurnsSince(ctx, userKey, since)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, n)
	return n, nil
}

// GetLatestSummary returns the cached summary when present.
func (c *CachedRepository) GetLatestSummary(ctx context.Context, userKey string) (*domain.Summary, error) {
	key := cacheKey{userKey: userKey, kind: kindSummary}
	if v, ok := c.cache.Get(key); ok {
		s, _ := v.(*domain.Summary)
		if s == nil {
			return nil, nil
		}
		out := *s
		return &out, nil
	}
	s, err := c.Repository.GetLatestSummary(ctx, userKey)
	if err != nil {
		return nil, err
	}
	if s != nil {
		stored := *s
		c.cache.Add(key, &stored)
	} else {
		c.cache.Add(key, (*domain.Summary)(nil))
	}
	return s, nil
}

// GetPlan returns the cached plan record when present.
func (c *CachedRepository) GetPlan(ctx context.Context, userKey string) (*domain.PlanRecord, error) {
	key := cacheKey{userKey: userKey, kind: kindPlan}
	if v, ok := c.cache.Get(key); ok {
		rec, _ := v.(*domain.PlanRecord)
		return clonePlanRecord(rec), nil
	}
	rec, err := c.Repository.GetPlan(ctx, userKey)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clonePlanRecord(rec))
	return rec, nil
}

// AppendTurns writes through and drops the user's turn and count entries.
func (c *CachedRepository) AppendTurns(ctx context.Context, userKey string, turns ...*domain.Turn) error {
	defer c.invalidateKind(userKey, kindTurns, kindCount)
	return c.Repository.AppendTurns(ctx, userKey, turns...)
}

// DeleteTurns writes through and drops the user's turn and count entries.
func (c *CachedRepository) DeleteTurns(ctx context.Context, userKey string) error {
	defer c.invalidateKind(userKey, kindTurns, kindCount)
	return c.Repository.DeleteTurns(ctx, userKey)
}

// PutSummary writes through and drops the cached summary.
func (c *CachedRepository) PutSummary(ctx context.Context, userKey string, summary domain.Summary) error {
	defer c.invalidateKind(userKey, kindSummary)
	return c.Repository.PutSummary(ctx, userKey, summary)
}

// DeleteSummary writes through and drops the cached summary.
func (c *CachedRepository) DeleteSummary(ctx context.Context, userKey string) error {
	defer c.invalidateKind(userKey, kindSummary)
	return c.Repository.DeleteSummary(ctx, userKey)
}

// DeleteConversation writes through and drops all of the user's entries.
func (c *CachedRepository) DeleteConversation(ctx context.Context, userKey string) error {
	defer c.Invalidate(userKey)
	return c.Repository.DeleteConversation(ctx, userKey)
}

// PutPlan writes through and drops the cached plan.
func (c *CachedRepository) PutPlan(ctx context.Context, userKey string, plan domain.Plan) error {
	defer c.invalidateKind(userKey, kindPlan)
	return c.Repository.PutPlan(ctx, userKey, plan)
}

// PutSyncIDs writes through and drops the cached plan.
func (c *CachedRepository) PutSyncIDs(ctx context.Context, userKey string, ids domain.SyncIDs) error {
	defer c.invalidateKind(userKey, kindPlan)
	return c.Repository.PutSyncIDs(ctx, userKey, ids)
}

func clonePlanRecord(rec *domain.PlanRecord) *domain.PlanRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.Plan.Entries = append([]domain.PlanEntry(nil), rec.Plan.Entries...)
	out.Sync.TaskIDs = cloneMap(rec.Sync.TaskIDs)
	out.Sync.EventIDs = cloneMap(rec.Sync.EventIDs)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
