// Package pipeline drives the sampling loop: it pulls frames from the source,
// gates them through motion detection and hands triggered frames to inference.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/errors"
	"birdwatch-go/internal/observability/metrics"
	"birdwatch-go/internal/source"

	log "github.com/sirupsen/logrus"
)

// MotionGate decides whether a frame is worth running detection on
type MotionGate interface {
	Observe(frame models.Frame) bool
	Reset()
}

// MotionRecorder counts motion triggers
type MotionRecorder interface {
	RecordMotion()
}

// Queue accepts triggered frames without blocking
type Queue interface {
	Submit(frame models.Frame) bool
	Shutdown(ctx context.Context) error
}

// Supervisor owns the sampling loop and the lifecycle of the inference queue
type Supervisor struct {
	source   source.Source
	motion   MotionGate
	recorder MotionRecorder
	queue    Queue
	cfg      config.PipelineConfig
	metrics  *metrics.PipelineMetrics
}

// NewSupervisor creates a supervisor
func NewSupervisor(src source.Source, motion MotionGate, recorder MotionRecorder, queue Queue, cfg config.PipelineConfig, m *metrics.PipelineMetrics) *Supervisor {
	return &Supervisor{
		source:   src,
		motion:   motion,
		recorder: recorder,
		queue:    queue,
		cfg:      cfg,
		metrics:  m,
	}
}

// Run samples frames until ctx is cancelled or the source cannot be reopened
// within the configured number of retries. In both cases the inference queue is
// drained before Run returns. A cancelled ctx is a clean stop and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Infof("Pipeline started, reading frames from %s", s.source.Name())

	runErr := s.loop(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.queue.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("Inference queue did not drain in time")
		if runErr == nil {
			runErr = fmt.Errorf("drain inference queue: %w", err)
		}
	}

	log.Info("Pipeline stopped")
	return runErr
}

func (s *Supervisor) loop(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		stream, err := s.source.Open(ctx)
		if err == nil {
			// frames of a new connection are not compared with the old one
			s.motion.Reset()
			err = s.consume(ctx, stream, &failures)
			if cerr := stream.Close(); cerr != nil {
				log.WithError(cerr).Debug("Closing frame stream failed")
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		if s.cfg.MaxRetries > 0 && failures > s.cfg.MaxRetries {
			return errors.New(fmt.Errorf("frame source %s unavailable after %d attempts: %w", s.source.Name(), s.cfg.MaxRetries, err)).
				Category(errors.CategoryTransient).
				Component("pipeline").
				Build()
		}

		delay := calculateBackoff(failures, s.cfg.RetryDelay, s.cfg.MaxRetryDelay)
		fields := errors.FieldsOf(err)
		fields["attempt"] = failures
		fields["delay"] = delay
		log.WithFields(fields).WithError(err).Warn("Frame source lost, reconnecting")
		s.metrics.SourceReconnect()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// consume reads frames until the stream fails. failures is reset after every
// good frame so a stream that worked for a while starts the backoff again at
// the initial delay.
func (s *Supervisor) consume(ctx context.Context, stream source.Stream, failures *int) error {
	for {
		frame, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrCorruptFrame) {
				s.metrics.FrameCorrupt()
				log.WithError(err).Warn("Skipping corrupt frame")
				continue
			}
			return err
		}
		*failures = 0
		s.metrics.FrameSampled()

		if !s.motion.Observe(frame) {
			continue
		}

		s.metrics.MotionTriggered()
		s.recorder.RecordMotion()
		if !s.queue.Submit(frame) {
			log.WithField("frame_ts", frame.Timestamp).Debug("Triggered frame dropped, motion event still counted")
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at maxDelay
func calculateBackoff(attempt int, retryDelay, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
