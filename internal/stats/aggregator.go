// Package stats keeps the detection counters of the running session.
package stats

import (
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/errors"
	"birdwatch-go/internal/util/timezone"

	"github.com/google/uuid"
)

const (
	// DetectionLogSize is the number of detection log entries kept in memory
	DetectionLogSize = 100

	hourKeyLayout = "2006-01-02_15"
	dayKeyLayout  = "2006-01-02"
)

// LabelCounts maps a label to a count. Every known label is always present.
type LabelCounts map[models.Label]int

func newLabelCounts() LabelCounts {
	counts := make(LabelCounts, len(models.KnownLabels))
	for _, l := range models.KnownLabels {
		counts[l] = 0
	}
	return counts
}

// Total returns the sum of all counts
func (c LabelCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// SessionStats is a point in time copy of the session counters
type SessionStats struct {
	SessionID       string         `json:"session_id"`
	SessionStart    time.Time      `json:"session_start"`
	MotionEvents    int            `json:"motion_events"`
	TotalDetections int            `json:"total_detections"`
	Detections      LabelCounts    `json:"detections"`
	BirdSpecies     map[string]int `json:"bird_species"`
	LastDetection   *time.Time     `json:"last_detection,omitempty"`
}

// ConfidenceStats summarises the confidences seen for one label
type ConfidenceStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// LogEntry is one recorded detection
type LogEntry struct {
	Timestamp  time.Time    `json:"timestamp"`
	Label      models.Label `json:"type"`
	Confidence float64      `json:"confidence"`
	Species    string       `json:"species,omitempty"`
}

// Bucket holds the per-label counts of one hour or day
type Bucket struct {
	Key    string      `json:"key"`
	Label  string      `json:"label"`
	Counts LabelCounts `json:"counts"`
}

type confidenceAcc struct {
	count    int
	sum      float64
	min, max float64
}

func (a *confidenceAcc) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v
}

// Aggregator is the single owner of the session counters.
// All methods are safe for concurrent use.
type Aggregator struct {
	mu sync.RWMutex

	sessionID     string
	sessionStart  time.Time
	motionEvents  int
	total         int
	detections    LabelCounts
	species       map[string]int
	lastDetection *time.Time

	confidence map[models.Label]*confidenceAcc
	hourly     map[string]LabelCounts
	daily      map[string]LabelCounts
	log        []LogEntry
}

// NewAggregator creates an aggregator for a session starting at start
func NewAggregator(start time.Time) *Aggregator {
	a := &Aggregator{}
	a.reset(start)
	return a
}

// Reset discards all counters and starts a new session at now
func (a *Aggregator) Reset(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset(now)
}

func (a *Aggregator) reset(now time.Time) {
	a.sessionID = uuid.NewString()
	a.sessionStart = now
	a.motionEvents = 0
	a.total = 0
	a.detections = newLabelCounts()
	a.species = make(map[string]int)
	a.lastDetection = nil
	a.confidence = make(map[models.Label]*confidenceAcc)
	a.hourly = make(map[string]LabelCounts)
	a.daily = make(map[string]LabelCounts)
	a.log = make([]LogEntry, 0, DetectionLogSize)
}

// RecordMotionEvent counts one motion trigger
func (a *Aggregator) RecordMotionEvent() {
	a.mu.Lock()
	a.motionEvents++
	a.mu.Unlock()
}

// RecordDetections counts dets as seen at ts. The batch is validated first and
// applied as a whole: an invalid detection leaves every counter untouched.
func (a *Aggregator) RecordDetections(dets []models.Detection, ts time.Time) error {
	if err := Validate(dets); err != nil {
		return err
	}
	if len(dets) == 0 {
		return nil
	}

	hourKey := timezone.Format(ts, hourKeyLayout)
	dayKey := timezone.Format(ts, dayKeyLayout)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range dets {
		a.detections[d.Label]++
		a.total++

		if d.Label == models.LabelBird && d.Species != "" {
			a.species[d.Species]++
		}

		acc, ok := a.confidence[d.Label]
		if !ok {
			acc = &confidenceAcc{}
			a.confidence[d.Label] = acc
		}
		acc.add(d.Confidence)

		bucket(a.hourly, hourKey)[d.Label]++
		bucket(a.daily, dayKey)[d.Label]++

		entry := LogEntry{Timestamp: ts, Label: d.Label, Confidence: d.Confidence}
		if d.Label == models.LabelBird {
			entry.Species = d.Species
		}
		a.appendLog(entry)
	}

	if a.lastDetection == nil || ts.After(*a.lastDetection) {
		last := ts
		a.lastDetection = &last
	}
	return nil
}

// Validate checks that every detection has a label and a confidence in [0,1]
func Validate(dets []models.Detection) error {
	for i, d := range dets {
		if err := validate(d); err != nil {
			return errors.New(err).
				Category(errors.CategoryInference).
				Component("stats").
				Context("index", i).
				Build()
		}
	}
	return nil
}

func validate(d models.Detection) error {
	if d.Label == "" {
		return fmt.Errorf("detection without label")
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("detection %s has confidence %v outside [0,1]", d.Label, d.Confidence)
	}
	return nil
}

func bucket(m map[string]LabelCounts, key string) LabelCounts {
	counts, ok := m[key]
	if !ok {
		counts = newLabelCounts()
		m[key] = counts
	}
	return counts
}

func (a *Aggregator) appendLog(entry LogEntry) {
	if len(a.log) == DetectionLogSize {
		copy(a.log, a.log[1:])
		a.log = a.log[:DetectionLogSize-1]
	}
	a.log = append(a.log, entry)
}

// Snapshot returns a deep copy of the session counters
func (a *Aggregator) Snapshot() SessionStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := SessionStats{
		SessionID:       a.sessionID,
		SessionStart:    a.sessionStart,
		MotionEvents:    a.motionEvents,
		TotalDetections: a.total,
		Detections:      maps.Clone(a.detections),
		BirdSpecies:     maps.Clone(a.species),
	}
	if a.lastDetection != nil {
		last := *a.lastDetection
		s.LastDetection = &last
	}
	return s
}

// SessionStart returns the start of the current session
func (a *Aggregator) SessionStart() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionStart
}

// ConfidenceAverages returns the confidence statistics of every label seen
// so far. Known labels without detections are reported with zero values.
func (a *Aggregator) ConfidenceAverages() map[models.Label]ConfidenceStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[models.Label]ConfidenceStats, len(a.confidence)+len(models.KnownLabels))
	for _, l := range models.KnownLabels {
		out[l] = ConfidenceStats{}
	}
	for l, acc := range a.confidence {
		out[l] = ConfidenceStats{
			Count:   acc.count,
			Average: acc.sum / float64(acc.count),
			Min:     acc.min,
			Max:     acc.max,
		}
	}
	return out
}

// HourlyBreakdown returns the counts of the last hours hours, current hour first.
// Hours without detections are included with zero counts.
func (a *Aggregator) HourlyBreakdown(now time.Time, hours int) []Bucket {
	return a.breakdown(true, hours, func(i int) time.Time {
		return now.Add(-time.Duration(i) * time.Hour)
	}, hourKeyLayout, "15:00")
}

// DailyBreakdown returns the counts of the last days days, today first
func (a *Aggregator) DailyBreakdown(now time.Time, days int) []Bucket {
	return a.breakdown(false, days, func(i int) time.Time {
		return now.AddDate(0, 0, -i)
	}, dayKeyLayout, "01-02")
}

func (a *Aggregator) breakdown(hourly bool, n int, at func(i int) time.Time, keyLayout, labelLayout string) []Bucket {
	if n <= 0 {
		return []Bucket{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	src := a.daily
	if hourly {
		src = a.hourly
	}

	out := make([]Bucket, 0, n)
	for i := 0; i < n; i++ {
		t := at(i)
		key := timezone.Format(t, keyLayout)
		counts := newLabelCounts()
		if stored, ok := src[key]; ok {
			maps.Copy(counts, stored)
		}
		out = append(out, Bucket{Key: key, Label: timezone.Format(t, labelLayout), Counts: counts})
	}
	return out
}

// DetectionLog returns the most recent detections, oldest first
func (a *Aggregator) DetectionLog() []LogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]LogEntry(nil), a.log...)
}

// DetectionRate is total detections per motion event in percent, rounded to
// one decimal. It is 0 while no motion event was recorded.
func DetectionRate(totalDetections, motionEvents int) float64 {
	if motionEvents <= 0 {
		return 0
	}
	rate := float64(totalDetections) / float64(motionEvents) * 100
	return math.Round(rate*10) / 10
}
