package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/observability/metrics"

	log "github.com/sirupsen/logrus"
)

// FrameHandler processes one triggered frame
type FrameHandler interface {
	Process(ctx context.Context, frame models.Frame)
}

// HandlerFunc adapts a function to FrameHandler
type HandlerFunc func(ctx context.Context, frame models.Frame)

// Process calls f
func (f HandlerFunc) Process(ctx context.Context, frame models.Frame) {
	f(ctx, frame)
}

// WorkerPool runs triggered frames through a FrameHandler on a fixed number of
// workers. The queue is bounded: Submit never blocks and drops the newest frame
// when the queue is full.
type WorkerPool struct {
	handler     FrameHandler
	jobs        chan models.Frame
	workerCount int
	metrics     *metrics.PipelineMetrics

	activeJobs      int
	activeJobsMutex sync.Mutex

	// closeMu guards closed against concurrent Submit and Shutdown
	closeMu sync.RWMutex
	closed  bool

	submitted atomic.Uint64
	dropped   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool starts workers goroutines reading from a queue of queueSize frames
func NewWorkerPool(handler FrameHandler, workers, queueSize int, m *metrics.PipelineMetrics) *WorkerPool {
	workers = max(1, workers)
	queueSize = max(1, queueSize)

	log.Infof("Initializing inference worker pool with %d workers and a queue of %d frames", workers, queueSize)

	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		handler:     handler,
		jobs:        make(chan models.Frame, queueSize),
		workerCount: workers,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}

	pool.startWorkers()

	return pool
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debugf("Worker %d started", workerID)

			for frame := range p.jobs {
				p.metrics.SetQueueDepth(len(p.jobs))

				p.activeJobsMutex.Lock()
				p.activeJobs++
				jobCount := p.activeJobs
				p.activeJobsMutex.Unlock()

				log.Debugf("Worker %d processing frame from %s (active jobs: %d)",
					workerID, frame.Timestamp.Format(time.RFC3339Nano), jobCount)

				startTime := time.Now()
				p.process(workerID, frame)

				p.activeJobsMutex.Lock()
				p.activeJobs--
				p.activeJobsMutex.Unlock()

				log.Debugf("Worker %d completed frame in %v", workerID, time.Since(startTime))
			}
			log.Debugf("Worker %d shutting down (queue closed)", workerID)
		}(i)
	}
}

// process runs the handler and keeps the worker alive if it panics
func (p *WorkerPool) process(workerID int, frame models.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("worker", workerID).Errorf("Frame handler panicked: %v", r)
		}
	}()
	p.handler.Process(p.ctx, frame)
}

// Submit queues frame for processing. It returns false when the frame was
// dropped because the queue is full or the pool is shut down.
func (p *WorkerPool) Submit(frame models.Frame) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		p.metrics.FrameDropped()
		return false
	}

	select {
	case p.jobs <- frame:
		p.submitted.Add(1)
		p.metrics.SetQueueDepth(len(p.jobs))
		return true
	default:
		n := p.dropped.Add(1)
		p.metrics.FrameDropped()
		log.WithFields(log.Fields{
			"frame_ts": frame.Timestamp,
			"dropped":  n,
		}).Warn("Inference queue full, dropping triggered frame")
		return false
	}
}

// ActiveJobCount returns the number of frames being processed right now
func (p *WorkerPool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// QueueLength returns the number of frames waiting for a worker
func (p *WorkerPool) QueueLength() int {
	return len(p.jobs)
}

// GetWorkerCount returns the number of workers in the pool
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// GetQueueCapacity returns the capacity of the queue
func (p *WorkerPool) GetQueueCapacity() int {
	return cap(p.jobs)
}

// Submitted returns the number of accepted frames
func (p *WorkerPool) Submitted() uint64 {
	return p.submitted.Load()
}

// Dropped returns the number of frames dropped by backpressure or after shutdown
func (p *WorkerPool) Dropped() uint64 {
	return p.dropped.Load()
}

// Shutdown stops accepting frames and waits until queued and in-flight frames
// are processed. When ctx expires first, the context of the running handlers
// is cancelled and ctx.Err() is returned once the workers have exited.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		log.Infof("Worker pool drained (%d processed, %d dropped)", p.Submitted(), p.Dropped())
		return nil
	case <-ctx.Done():
		log.Warnf("Worker pool drain timed out with %d queued frames, cancelling", len(p.jobs))
		p.cancel()
		<-done
		return ctx.Err()
	}
}
