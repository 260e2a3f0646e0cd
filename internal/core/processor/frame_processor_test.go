package processor

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/detection"
	"birdwatch-go/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	dets []models.Detection
	err  error
}

func (f fakeDetector) Detect(context.Context, models.Frame) ([]models.Detection, error) {
	return f.dets, f.err
}

type commit struct {
	dets []models.Detection
	ts   time.Time
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits []commit
	err     error
}

func (f *fakeCommitter) Commit(frame models.Frame, dets []models.Detection, ts time.Time) (*models.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.commits = append(f.commits, commit{dets: dets, ts: ts})
	return &models.Capture{ID: "motion_test", CreatedAt: ts, Detections: dets}, nil
}

type fixedSpecies string

func (s fixedSpecies) Classify(context.Context, models.Frame, models.Box) (string, error) {
	return string(s), nil
}

func TestProcessCommitsRefinedDetections(t *testing.T) {
	t.Parallel()

	det := fakeDetector{dets: []models.Detection{
		{Label: models.LabelBird, Confidence: 0.8},
		{Label: models.LabelDog, Confidence: 0.6},
	}}
	committer := &fakeCommitter{}
	p := NewFrameProcessor(det, detection.NewRefiner(fixedSpecies("Robin"), time.Second), committer, nil, 0)

	var got []models.Capture
	p.AddListener(func(c models.Capture) { got = append(got, c) })

	p.Process(context.Background(), frameAt(3))

	require.Len(t, committer.commits, 1)
	c := committer.commits[0]
	assert.Equal(t, frameAt(3).Timestamp, c.ts)
	require.Len(t, c.dets, 2)
	assert.Equal(t, "Robin", c.dets[0].Species)
	assert.Empty(t, c.dets[1].Species)

	require.Len(t, got, 1)
	assert.Equal(t, "motion_test", got[0].ID)
}

func TestDetectionFailureStillCommitsMotion(t *testing.T) {
	t.Parallel()

	inferenceErr := errors.Newf("model crashed").Category(errors.CategoryInference).Build()
	committer := &fakeCommitter{}
	p := NewFrameProcessor(fakeDetector{err: inferenceErr}, nil, committer, nil, time.Minute)

	p.Process(context.Background(), frameAt(1))

	require.Len(t, committer.commits, 1)
	assert.Empty(t, committer.commits[0].dets)
}

func TestStorageFailureSkipsListeners(t *testing.T) {
	t.Parallel()

	committer := &fakeCommitter{err: stderrors.New("disk full")}
	p := NewFrameProcessor(fakeDetector{}, nil, committer, nil, 0)

	called := false
	p.AddListener(func(models.Capture) { called = true })
	p.Process(context.Background(), frameAt(1))

	assert.False(t, called)
}

func TestCancelledContextDiscardsFrame(t *testing.T) {
	t.Parallel()

	committer := &fakeCommitter{}
	p := NewFrameProcessor(fakeDetector{}, nil, committer, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Process(ctx, frameAt(1))

	assert.Empty(t, committer.commits)
}

func TestProcessorInPool(t *testing.T) {
	t.Parallel()

	committer := &fakeCommitter{}
	p := NewFrameProcessor(fakeDetector{dets: []models.Detection{{Label: models.LabelPerson, Confidence: 0.9}}}, nil, committer, nil, 0)
	pool := NewWorkerPool(p, 2, 8, nil)

	for i := 0; i < 5; i++ {
		require.True(t, pool.Submit(frameAt(i)))
	}
	require.NoError(t, pool.Shutdown(context.Background()))

	committer.mu.Lock()
	defer committer.mu.Unlock()
	assert.Len(t, committer.commits, 5)
}
