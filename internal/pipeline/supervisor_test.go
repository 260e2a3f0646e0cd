package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// step is one scripted result of Stream.Next
type step struct {
	frame models.Frame
	err   error
}

// fakeSource hands out one scripted connection per Open. A nil connection
// makes Open fail. When the script of a connection is used up, Next blocks
// until the context ends; when there are no connections left, Open fails.
type fakeSource struct {
	mu    sync.Mutex
	conns [][]step
	opens int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Open(context.Context) (source.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.conns) == 0 {
		return nil, stderrors.New("camera unplugged")
	}
	steps := f.conns[0]
	f.conns = f.conns[1:]
	if steps == nil {
		return nil, stderrors.New("camera busy")
	}
	return &fakeStream{steps: steps}, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeStream struct {
	steps []step
}

func (s *fakeStream) Next(ctx context.Context) (models.Frame, error) {
	if len(s.steps) == 0 {
		<-ctx.Done()
		return models.Frame{}, ctx.Err()
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.frame, st.err
}

func (s *fakeStream) Close() error { return nil }

// gate triggers on frames whose width is 1
type gate struct{}

func (gate) Observe(f models.Frame) bool { return f.Width == 1 }

func (gate) Reset() {}

type recorder struct{ n atomic.Int32 }

func (r *recorder) RecordMotion() { r.n.Add(1) }

type fakeQueue struct {
	mu        sync.Mutex
	accept    bool
	submitted []models.Frame
	shutdowns int
}

func (q *fakeQueue) Submit(f models.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted = append(q.submitted, f)
	return q.accept
}

func (q *fakeQueue) Shutdown(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdowns++
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.submitted)
}

func trigger(i int) step {
	return step{frame: models.Frame{Timestamp: t0.Add(time.Duration(i) * time.Second), Width: 1}}
}

func still(i int) step {
	return step{frame: models.Frame{Timestamp: t0.Add(time.Duration(i) * time.Second), Width: 2}}
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ShutdownTimeout: time.Second,
		RetryDelay:      time.Millisecond,
		MaxRetryDelay:   4 * time.Millisecond,
	}
}

func runAsync(t *testing.T, s *Supervisor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return cancel, errCh
}

func TestTriggeredFramesAreCountedAndQueued(t *testing.T) {
	t.Parallel()

	src := &fakeSource{conns: [][]step{{still(0), trigger(1), still(2), trigger(3)}}}
	rec := &recorder{}
	q := &fakeQueue{accept: true}
	s := NewSupervisor(src, gate{}, rec, q, testConfig(), nil)

	cancel, errCh := runAsync(t, s)
	require.Eventually(t, func() bool { return q.count() == 2 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-errCh)
	assert.EqualValues(t, 2, rec.n.Load())
	assert.Equal(t, 1, q.shutdowns, "queue is drained on stop")
	assert.Equal(t, t0.Add(3*time.Second), q.submitted[1].Timestamp)
}

func TestDroppedFramesStillCountMotion(t *testing.T) {
	t.Parallel()

	src := &fakeSource{conns: [][]step{{trigger(1), trigger(2), trigger(3)}}}
	rec := &recorder{}
	q := &fakeQueue{accept: false}
	s := NewSupervisor(src, gate{}, rec, q, testConfig(), nil)

	cancel, errCh := runAsync(t, s)
	require.Eventually(t, func() bool { return q.count() == 3 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-errCh)
	assert.EqualValues(t, 3, rec.n.Load())
}

func TestCorruptFramesAreSkipped(t *testing.T) {
	t.Parallel()

	corrupt := step{err: source.CorruptFrame(stderrors.New("bad huffman code"))}
	src := &fakeSource{conns: [][]step{{trigger(1), corrupt, corrupt, trigger(2)}}}
	q := &fakeQueue{accept: true}
	s := NewSupervisor(src, gate{}, &recorder{}, q, testConfig(), nil)

	cancel, errCh := runAsync(t, s)
	require.Eventually(t, func() bool { return q.count() == 2 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-errCh)
	assert.Equal(t, 1, src.openCount(), "a corrupt frame does not reconnect")
}

func TestReconnectsAfterDisconnect(t *testing.T) {
	t.Parallel()

	src := &fakeSource{conns: [][]step{
		{trigger(1), {err: io.EOF}},
		nil,
		nil,
		{trigger(2)},
	}}
	q := &fakeQueue{accept: true}
	s := NewSupervisor(src, gate{}, &recorder{}, q, testConfig(), nil)

	cancel, errCh := runAsync(t, s)
	require.Eventually(t, func() bool { return q.count() == 2 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-errCh)
	assert.Equal(t, 4, src.openCount())
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 3
	src := &fakeSource{}
	q := &fakeQueue{accept: true}
	s := NewSupervisor(src, gate{}, &recorder{}, q, cfg, nil)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable after 3 attempts")
	assert.Equal(t, 4, src.openCount())
	assert.Equal(t, 1, q.shutdowns)
}

func TestGoodFrameResetsRetryCounter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 1
	src := &fakeSource{conns: [][]step{
		{trigger(1), {err: io.EOF}},
		{trigger(2), {err: io.EOF}},
		{trigger(3), {err: io.EOF}},
	}}
	q := &fakeQueue{accept: true}
	s := NewSupervisor(src, gate{}, &recorder{}, q, cfg, nil)

	err := s.Run(context.Background())
	require.Error(t, err, "the fourth open fails twice in a row")
	assert.Equal(t, 3, q.count(), "each connection delivered its frame")
	assert.Equal(t, 5, src.openCount())
}

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{60, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateBackoff(tt.attempt, time.Second, 30*time.Second), "attempt %d", tt.attempt)
	}
}
