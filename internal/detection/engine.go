// Package detection wraps the object detection and species classification
// backends behind timeouts and confidence filtering.
package detection

import (
	"context"
	"fmt"
	"time"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/errors"

	log "github.com/sirupsen/logrus"
)

// Backend is an object detector: given a frame it returns labelled boxes
type Backend interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error)
}

// BackendFunc adapts a function to the Backend interface
type BackendFunc func(ctx context.Context, frame models.Frame) ([]models.Detection, error)

// Detect calls f
func (f BackendFunc) Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	return f(ctx, frame)
}

// Engine runs a Backend with a per-call timeout and drops low-confidence results
type Engine struct {
	backend       Backend
	minConfidence float64
	timeout       time.Duration
}

// NewEngine creates an engine around backend
func NewEngine(backend Backend, minConfidence float64, timeout time.Duration) *Engine {
	return &Engine{
		backend:       backend,
		minConfidence: minConfidence,
		timeout:       timeout,
	}
}

type detectResult struct {
	detections []models.Detection
	err        error
}

// Detect returns the detections of frame with confidence >= the configured minimum.
//
// A backend error, panic or timeout yields an empty result together with an
// inference error. The backend call runs in its own goroutine so a backend that
// ignores ctx cannot hold the caller past the timeout.
func (e *Engine) Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan detectResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- detectResult{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		dets, err := e.backend.Detect(callCtx, frame)
		resultCh <- detectResult{detections: dets, err: err}
	}()

	var res detectResult
	select {
	case res = <-resultCh:
	case <-callCtx.Done():
		res = detectResult{err: fmt.Errorf("detection timed out after %s: %w", e.timeout, callCtx.Err())}
	}

	if res.err != nil {
		return nil, errors.New(res.err).
			Category(errors.CategoryInference).
			Component("detection").
			Context("frame_ts", frame.Timestamp).
			Context("elapsed_ms", time.Since(start).Milliseconds()).
			Build()
	}

	return e.filter(res.detections), nil
}

func (e *Engine) filter(dets []models.Detection) []models.Detection {
	kept := make([]models.Detection, 0, len(dets))
	for _, d := range dets {
		// written as a positive range test so NaN is rejected too
		if d.Label == "" || !(d.Confidence >= 0 && d.Confidence <= 1) {
			log.WithFields(log.Fields{
				"label":      d.Label,
				"confidence": d.Confidence,
			}).Debug("Dropping malformed detection")
			continue
		}
		if d.Confidence < e.minConfidence {
			continue
		}
		if d.Label != models.LabelBird {
			d.Species = ""
		}
		kept = append(kept, d)
	}
	return kept
}
