// Package processor runs triggered frames through detection, species refinement
// and the session commit on a pool of workers.
package processor

import (
	"context"
	"sync"
	"time"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/detection"
	"birdwatch-go/internal/errors"
	"birdwatch-go/internal/observability/metrics"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Detector finds objects in a frame
type Detector interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error)
}

// Committer persists a capture and counts its detections
type Committer interface {
	Commit(frame models.Frame, dets []models.Detection, ts time.Time) (*models.Capture, error)
}

// CaptureListener is notified after a capture was committed
type CaptureListener func(c models.Capture)

// FrameProcessor handles one triggered frame: detect, refine birds, commit
type FrameProcessor struct {
	detector  Detector
	refiner   *detection.Refiner
	committer Committer
	metrics   *metrics.PipelineMetrics
	logLimit  *rate.Limiter

	listenersMu sync.RWMutex
	listeners   []CaptureListener
}

// NewFrameProcessor creates a frame processor. Detections are logged at info
// level at most once per logInterval, 0 logs every detection.
func NewFrameProcessor(detector Detector, refiner *detection.Refiner, committer Committer, m *metrics.PipelineMetrics, logInterval time.Duration) *FrameProcessor {
	limit := rate.NewLimiter(rate.Inf, 1)
	if logInterval > 0 {
		limit = rate.NewLimiter(rate.Every(logInterval), 1)
	}
	return &FrameProcessor{
		detector:  detector,
		refiner:   refiner,
		committer: committer,
		metrics:   m,
		logLimit:  limit,
	}
}

// AddListener registers a function called for every committed capture
func (p *FrameProcessor) AddListener(l CaptureListener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Process implements FrameHandler
func (p *FrameProcessor) Process(ctx context.Context, frame models.Frame) {
	if ctx.Err() != nil {
		log.WithField("frame_ts", frame.Timestamp).Warn("Pipeline stopped, discarding queued frame")
		return
	}

	start := time.Now()
	dets, err := p.detector.Detect(ctx, frame)
	p.metrics.InferenceDone(time.Since(start), err)
	if err != nil {
		log.WithFields(errors.FieldsOf(err)).WithError(err).Warn("Detection failed, recording frame without detections")
		dets = nil
	}

	dets = p.refiner.Refine(ctx, frame, dets)

	c, err := p.committer.Commit(frame, dets, frame.Timestamp)
	if err != nil {
		p.metrics.CaptureFailed()
		log.WithFields(errors.FieldsOf(err)).WithError(err).Error("Capture could not be stored, detections not counted")
		return
	}
	p.metrics.CaptureStored()
	for _, d := range c.Detections {
		p.metrics.DetectionCounted(string(d.Label), c.CreatedAt)
	}

	p.logCapture(c)
	p.notify(*c)
}

func (p *FrameProcessor) logCapture(c *models.Capture) {
	entry := log.WithFields(log.Fields{
		"capture_id": c.ID,
		"detections": len(c.Detections),
	})
	if len(c.Detections) == 0 {
		entry.Debug("Motion captured, nothing detected")
		return
	}
	for _, d := range c.Detections {
		fields := log.Fields{"label": d.Label, "confidence": d.Confidence}
		if d.Species != "" {
			fields["species"] = d.Species
		}
		if p.logLimit.Allow() {
			entry.WithFields(fields).Info("Detection")
		} else {
			entry.WithFields(fields).Debug("Detection")
		}
	}
}

func (p *FrameProcessor) notify(c models.Capture) {
	p.listenersMu.RLock()
	listeners := append([]CaptureListener(nil), p.listeners...)
	p.listenersMu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}
