package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvictor struct {
	mu    sync.Mutex
	ttls  []time.Duration
	batch []string
}

func (f *fakeEvictor) EvictIdle(ttl time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls = append(f.ttls, ttl)
	out := f.batch
	f.batch = nil
	return out
}

func (f *fakeEvictor) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ttls)
}

func TestSweepReportsEvicted(t *testing.T) {
	t.Parallel()
	states := &fakeEvictor{batch: []string{"a@example.com", "b@example.com"}}
	var got []string
	s := NewStateSweeper(states, 30*time.Minute, "", func(userKey string) {
		got = append(got, userKey)
	})

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, s.Sweep())
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)
	assert.Equal(t, []time.Duration{30 * time.Minute}, states.ttls)

	assert.Nil(t, s.Sweep())
	assert.Len(t, got, 2)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := NewStateSweeper(&fakeEvictor{}, time.Minute, "every now and then", nil)
	require.Error(t, s.Start(context.Background()))
}

func TestStartRunsOnSchedule(t *testing.T) {
	t.Parallel()
	states := &fakeEvictor{}
	s := NewStateSweeper(states, time.Minute, "@every 1s", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return states.sweeps() > 0 }, 5*time.Second, 50*time.Millisecond)
}
