package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	sweeps  int
	purged  int
	evicted int
	err     error
}

func (f *fakeStore) PurgeOlderThan(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.purged, f.err
}

func (f *fakeStore) EvictIfOverCapacity() (int, error) {
	return f.evicted, nil
}

func (f *fakeStore) SweepOrphans() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 1, nil
}

func (f *fakeStore) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestCycleUsesRetentionCutoff(t *testing.T) {
	t.Parallel()
	store := &fakeStore{purged: 3}
	s := NewService(store, 7, time.Hour, nil)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	res := s.RunCleanupCycle()
	assert.Equal(t, Result{Expired: 3, Orphaned: 1}, res)
	require.Len(t, store.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC), store.cutoffs[0])
}

func TestZeroRetentionOnlySweeps(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	res := NewService(store, 0, time.Hour, nil).RunCleanupCycle()
	assert.Empty(t, store.cutoffs)
	assert.Equal(t, 1, store.sweeps)
	assert.Equal(t, 1, res.Orphaned)
}

func TestCycleEnforcesCapacity(t *testing.T) {
	t.Parallel()
	store := &fakeStore{evicted: 2}
	res := NewService(store, 0, time.Hour, nil).RunCleanupCycle()
	assert.Equal(t, Result{Evicted: 2, Orphaned: 1}, res)
}

func TestPurgeFailureStillSweeps(t *testing.T) {
	t.Parallel()
	store := &fakeStore{err: assert.AnError}
	res := NewService(store, 1, time.Hour, nil).RunCleanupCycle()
	assert.Zero(t, res.Expired)
	assert.Equal(t, 1, res.Orphaned)
}

func TestRunCleansOnStartAndStops(t *testing.T) {
	store := &fakeStore{}
	s := NewService(store, 1, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return store.sweepCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
