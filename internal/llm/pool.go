package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// KeyPolicy picks which API key a new conversation uses.
type KeyPolicy interface {
	// Next returns an index in [0, n).
	Next(n int) int
}

// RoundRobin cycles through keys in order.
type RoundRobin struct {
	counter atomic.Uint64
}

// Next returns the next index in rotation.
func (r *RoundRobin) Next(n int) int {
	return int((r.counter.Add(1) - 1) % uint64(n))
}

// SeededRandom picks keys uniformly from a seeded source so tests can
// reproduce the sequence.
type SeededRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededRandom creates a random policy with a fixed seed.
func NewSeededRandom(seed uint64) *SeededRandom {
	return &SeededRandom{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns a random index.
func (s *SeededRandom) Next(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string, seed uint64) (KeyPolicy, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobin{}, nil
	case "random":
		return NewSeededRandom(seed), nil
	default:
		return nil, fmt.Errorf("unknown key policy %q", name)
	}
}

// Factory builds a Model for one API key.
type Factory func(ctx context.Context, apiKey string) (Model, error)

// Pool hands out models over a set of API keys according to a policy.
// One model per key is created lazily and reused.
type Pool struct {
	keys    []string
	policy  KeyPolicy
	factory Factory

	mu     sync.Mutex
	models map[string]Model
}

// NewPool creates a key pool.
func NewPool(keys []string, policy KeyPolicy, factory Factory) (*Pool, error) {
	if len(keys) == 0 {
		return nil, errors.New("key pool needs at least one API key")
	}
	if policy == nil {
		policy = &RoundRobin{}
	}
	return &Pool{
		keys:    append([]string(nil), keys...),
		policy:  policy,
		factory: factory,
		models:  make(map[string]Model),
	}, nil
}

// Acquire returns the model for the next key chosen by the policy.
func (p *Pool) Acquire(ctx context.Context) (Model, error) {
	key := p.keys[p.policy.Next(len(p.keys))]

	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.models[key]; ok {
		return m, nil
	}
	m, err := p.factory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	p.models[key] = m
	return m, nil
}

// Size returns the number of keys in the pool.
func (p *Pool) Size() int {
	return len(p.keys)
}
