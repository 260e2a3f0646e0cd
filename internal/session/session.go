// Package session ties the statistics aggregator and the capture store together
// and assembles the status snapshot read by the dashboard.
package session

import (
	"path"
	"sync"
	"time"

	"birdwatch-go/internal/capture"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/stats"
	"birdwatch-go/internal/status"

	log "github.com/sirupsen/logrus"
)

// Options configure the snapshot
type Options struct {
	Thresholds     status.Thresholds
	RecentCaptures int
	ImageBaseURL   string // prefix of the image references, e.g. "/captures"
}

// CaptureView is a capture as shown in the recent captures list
type CaptureView struct {
	ID            string               `json:"id"`
	Image         string               `json:"image"`
	Timestamp     time.Time            `json:"timestamp"`
	TimeAgo       string               `json:"time_ago"`
	DetectionInfo models.DetectionInfo `json:"detection_info"`
	Detections    []models.Detection   `json:"detections"`
}

// StatusSnapshot is the read-only view of the session. All fields come from
// one consistent state of the counters and the capture store.
type StatusSnapshot struct {
	Status          status.Status        `json:"status"`
	StatusKey       string               `json:"status_key"`
	StatusText      string               `json:"status_text"`
	SessionID       string               `json:"session_id"`
	SessionStart    time.Time            `json:"session_start"`
	SessionDuration string               `json:"session_duration"`
	Detections      stats.LabelCounts    `json:"detections"`
	BirdSpecies     []stats.SpeciesCount `json:"bird_species"`
	MotionEvents    int                  `json:"motion_events"`
	TotalDetections int                  `json:"total_detections"`
	DetectionRate   float64              `json:"detection_rate"`
	LastDetection   *time.Time           `json:"last_detection,omitempty"`
	RecentCaptures  []CaptureView        `json:"recent_captures"`
	TotalCaptures   int                  `json:"total_captures"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// Session is one run of the pipeline
type Session struct {
	// mu orders commits against snapshots: a snapshot never sees a capture
	// whose detections are not counted yet, or the other way round
	mu sync.RWMutex

	agg   *stats.Aggregator
	store *capture.Store
	opts  Options
}

// New creates a session around an aggregator and a capture store
func New(agg *stats.Aggregator, store *capture.Store, opts Options) *Session {
	return &Session{agg: agg, store: store, opts: opts}
}

// Aggregator returns the statistics aggregator of the session
func (s *Session) Aggregator() *stats.Aggregator {
	return s.agg
}

// Store returns the capture store of the session
func (s *Session) Store() *capture.Store {
	return s.store
}

// RecordMotion counts one motion trigger
func (s *Session) RecordMotion() {
	s.agg.RecordMotionEvent()
}

// Commit stores frame with its detections and then counts the detections.
// When the capture cannot be stored the counters are left untouched.
func (s *Session) Commit(frame models.Frame, dets []models.Detection, ts time.Time) (*models.Capture, error) {
	if err := stats.Validate(dets); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Record(frame, dets, ts)
	if err != nil {
		return nil, err
	}
	if err := s.agg.RecordDetections(c.Detections, ts); err != nil {
		// validated above, so this only fires if the store altered the detections
		log.WithError(err).WithField("capture_id", c.ID).Error("Stored capture could not be counted")
	}
	return c, nil
}

// Snapshot assembles the status snapshot at now, with texts localized by texts
func (s *Session) Snapshot(now time.Time, texts status.Texts) (StatusSnapshot, error) {
	s.mu.RLock()
	st := s.agg.Snapshot()
	recent, err := s.store.ListRecent(s.opts.RecentCaptures)
	if err != nil {
		s.mu.RUnlock()
		return StatusSnapshot{}, err
	}
	total, err := s.store.Count()
	s.mu.RUnlock()
	if err != nil {
		return StatusSnapshot{}, err
	}

	current := status.Classify(now, st.LastDetection, st.SessionStart, s.opts.Thresholds)
	snap := StatusSnapshot{
		Status:          current,
		StatusKey:       current.Key(),
		StatusText:      status.Text(current, now, st.LastDetection, texts),
		SessionID:       st.SessionID,
		SessionStart:    st.SessionStart,
		SessionDuration: status.FormatDuration(now.Sub(st.SessionStart)),
		Detections:      st.Detections,
		BirdSpecies:     stats.SortedSpecies(st.BirdSpecies),
		MotionEvents:    st.MotionEvents,
		TotalDetections: st.TotalDetections,
		DetectionRate:   stats.DetectionRate(st.TotalDetections, st.MotionEvents),
		LastDetection:   st.LastDetection,
		RecentCaptures:  make([]CaptureView, 0, len(recent)),
		TotalCaptures:   total,
		GeneratedAt:     now,
	}
	for _, c := range recent {
		snap.RecentCaptures = append(snap.RecentCaptures, s.View(c, now, texts))
	}
	return snap, nil
}

// View renders c for display at now
func (s *Session) View(c models.Capture, now time.Time, texts status.Texts) CaptureView {
	return CaptureView{
		ID:            c.ID,
		Image:         s.ImageRef(c),
		Timestamp:     c.CreatedAt,
		TimeAgo:       status.TimeAgo(now, c.CreatedAt, texts),
		DetectionInfo: c.Info(),
		Detections:    c.Detections,
	}
}

// ImageRef returns the reference under which the image of c is served
func (s *Session) ImageRef(c models.Capture) string {
	if s.opts.ImageBaseURL == "" {
		return c.ImagePath
	}
	return path.Join(s.opts.ImageBaseURL, c.ImagePath)
}
