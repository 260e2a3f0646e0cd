// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics contains the Prometheus metrics of sampling, inference and storage.
// All recording methods are safe to call on a nil receiver, so components can
// run without metrics.
type PipelineMetrics struct {
	registry *prometheus.Registry

	framesTotal        *prometheus.CounterVec // result: sampled, corrupt
	motionTriggers     prometheus.Counter
	queueDrops         prometheus.Counter
	queueDepth         prometheus.Gauge
	inferenceDuration  *prometheus.HistogramVec // outcome: ok, error
	detectionsTotal    *prometheus.CounterVec   // label
	capturesTotal      *prometheus.CounterVec   // result: stored, failed
	evictionsTotal     prometheus.Counter
	sourceReconnects   prometheus.Counter
	lastDetectionStamp prometheus.Gauge
}

// NewPipelineMetrics creates the pipeline metrics and registers them on registry
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdwatch_frames_total",
			Help: "Total number of frames read from the source.",
		},
		[]string{"result"},
	)
	m.motionTriggers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdwatch_motion_triggers_total",
		Help: "Total number of motion triggers.",
	})
	m.queueDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdwatch_queue_drops_total",
		Help: "Triggered frames dropped because the inference queue was full.",
	})
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "birdwatch_queue_depth",
		Help: "Triggered frames waiting for inference.",
	})
	m.inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdwatch_inference_duration_seconds",
			Help:    "Time spent in object detection per frame.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"outcome"},
	)
	m.detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdwatch_detections_total",
			Help: "Total number of counted detections by label.",
		},
		[]string{"label"},
	)
	m.capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdwatch_captures_total",
			Help: "Total number of capture attempts by result.",
		},
		[]string{"result"},
	)
	m.evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdwatch_capture_evictions_total",
		Help: "Total number of captures removed by retention.",
	})
	m.sourceReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdwatch_source_reconnects_total",
		Help: "Total number of frame source reconnect attempts.",
	})
	m.lastDetectionStamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "birdwatch_last_detection_timestamp_seconds",
		Help: "Unix time of the most recent detection.",
	})
}

// Describe implements prometheus.Collector
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesTotal.Describe(ch)
	m.motionTriggers.Describe(ch)
	m.queueDrops.Describe(ch)
	m.queueDepth.Describe(ch)
	m.inferenceDuration.Describe(ch)
	m.detectionsTotal.Describe(ch)
	m.capturesTotal.Describe(ch)
	m.evictionsTotal.Describe(ch)
	m.sourceReconnects.Describe(ch)
	m.lastDetectionStamp.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.framesTotal.Collect(ch)
	m.motionTriggers.Collect(ch)
	m.queueDrops.Collect(ch)
	m.queueDepth.Collect(ch)
	m.inferenceDuration.Collect(ch)
	m.detectionsTotal.Collect(ch)
	m.capturesTotal.Collect(ch)
	m.evictionsTotal.Collect(ch)
	m.sourceReconnects.Collect(ch)
	m.lastDetectionStamp.Collect(ch)
}

// Handler serves the registry in the Prometheus text format
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FrameSampled records a frame that reached the motion detector
func (m *PipelineMetrics) FrameSampled() {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues("sampled").Inc()
}

// FrameCorrupt records a frame that was skipped as undecodable
func (m *PipelineMetrics) FrameCorrupt() {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues("corrupt").Inc()
}

// MotionTriggered records a motion trigger
func (m *PipelineMetrics) MotionTriggered() {
	if m == nil {
		return
	}
	m.motionTriggers.Inc()
}

// FrameDropped records a triggered frame dropped by backpressure
func (m *PipelineMetrics) FrameDropped() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

// SetQueueDepth records the number of waiting frames
func (m *PipelineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// InferenceDone records the duration of one detection call
func (m *PipelineMetrics) InferenceDone(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.inferenceDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// DetectionCounted records one counted detection
func (m *PipelineMetrics) DetectionCounted(label string, ts time.Time) {
	if m == nil {
		return
	}
	m.detectionsTotal.WithLabelValues(label).Inc()
	m.lastDetectionStamp.Set(float64(ts.Unix()))
}

// CaptureStored records a persisted capture
func (m *PipelineMetrics) CaptureStored() {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues("stored").Inc()
}

// CaptureFailed records a capture that could not be persisted
func (m *PipelineMetrics) CaptureFailed() {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues("failed").Inc()
}

// CapturesEvicted records captures removed by retention
func (m *PipelineMetrics) CapturesEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictionsTotal.Add(float64(n))
}

// SourceReconnect records a reconnect attempt of the frame source
func (m *PipelineMetrics) SourceReconnect() {
	if m == nil {
		return
	}
	m.sourceReconnects.Inc()
}
