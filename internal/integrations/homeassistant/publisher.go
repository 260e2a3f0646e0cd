// Package homeassistant publishes the session state and capture events over
// MQTT, together with the Home Assistant discovery configuration.
package homeassistant

import (
	"context"
	"time"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/errors"
	"birdwatch-go/internal/session"
	"birdwatch-go/internal/status"

	log "github.com/sirupsen/logrus"
)

// Snapshotter builds the current session snapshot
type Snapshotter interface {
	Snapshot(now time.Time, texts status.Texts) (session.StatusSnapshot, error)
}

// State is the retained payload of the state topic
type State struct {
	Status          status.Status `json:"status"`
	StatusText      string        `json:"status_text"`
	SessionID       string        `json:"session_id"`
	SessionStart    time.Time     `json:"session_start"`
	MotionEvents    int           `json:"motion_events"`
	TotalDetections int           `json:"total_detections"`
	Person          int           `json:"person"`
	Dog             int           `json:"dog"`
	Bird            int           `json:"bird"`
	DetectionRate   float64       `json:"detection_rate"`
	LastSpecies     string        `json:"last_species"`
	LastDetection   *time.Time    `json:"last_detection"`
	TotalCaptures   int           `json:"total_captures"`
}

// CaptureEvent is the payload of the capture topic
type CaptureEvent struct {
	ID            string               `json:"id"`
	Timestamp     time.Time            `json:"timestamp"`
	DetectionInfo models.DetectionInfo `json:"detection_info"`
	Detections    []models.Detection   `json:"detections"`
}

// Publisher keeps the MQTT state topic current
type Publisher struct {
	client    MessagePublisher
	discovery *DiscoveryManager // nil when Home Assistant discovery is off
	source    Snapshotter
	texts     status.Texts
	prefix    string
	now       func() time.Time

	captures chan models.Capture
}

// NewPublisher creates a publisher for topics below prefix. discovery may be nil.
func NewPublisher(client MessagePublisher, discovery *DiscoveryManager, source Snapshotter, texts status.Texts, prefix string) *Publisher {
	return &Publisher{
		client:    client,
		discovery: discovery,
		source:    source,
		texts:     texts,
		prefix:    prefix,
		now:       time.Now,
		captures:  make(chan models.Capture, 16),
	}
}

// StateTopic is the retained topic with the State payload
func (p *Publisher) StateTopic() string {
	return p.prefix + "/state"
}

// CaptureTopic receives one CaptureEvent per stored capture
func (p *Publisher) CaptureTopic() string {
	return p.prefix + "/captures"
}

// OnCapture queues c for publishing. It never blocks the caller: when the
// queue is full the event is dropped, the next state update still counts it.
func (p *Publisher) OnCapture(c models.Capture) {
	select {
	case p.captures <- c:
	default:
		log.WithField("capture_id", c.ID).Warn("MQTT capture queue full, event dropped")
	}
}

// Run registers the discovery config, then publishes the state every interval
// and after every capture until ctx is done
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	if p.discovery != nil {
		if err := p.discovery.RegisterSensors(); err != nil {
			log.WithError(err).Warn("Home Assistant discovery incomplete")
		}
	}
	p.PublishState()

	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PublishState()
		case c := <-p.captures:
			p.publishCapture(c)
			p.PublishState()
		}
	}
}

// PublishState publishes the current session state, retained
func (p *Publisher) PublishState() {
	snap, err := p.source.Snapshot(p.now(), p.texts)
	if err != nil {
		log.WithFields(errors.FieldsOf(err)).WithError(err).Warn("Failed to build state for MQTT")
		return
	}
	if err := p.client.PublishRetain(p.StateTopic(), NewState(snap)); err != nil {
		log.WithError(err).Debug("Failed to publish MQTT state")
	}
}

func (p *Publisher) publishCapture(c models.Capture) {
	event := CaptureEvent{
		ID:            c.ID,
		Timestamp:     c.CreatedAt,
		DetectionInfo: c.Info(),
		Detections:    c.Detections,
	}
	if err := p.client.Publish(p.CaptureTopic(), event); err != nil {
		log.WithError(err).WithField("capture_id", c.ID).Debug("Failed to publish MQTT capture event")
	}
}

// NewState flattens a snapshot into the State payload
func NewState(snap session.StatusSnapshot) State {
	st := State{
		Status:          snap.Status,
		StatusText:      snap.StatusText,
		SessionID:       snap.SessionID,
		SessionStart:    snap.SessionStart,
		MotionEvents:    snap.MotionEvents,
		TotalDetections: snap.TotalDetections,
		Person:          snap.Detections[models.LabelPerson],
		Dog:             snap.Detections[models.LabelDog],
		Bird:            snap.Detections[models.LabelBird],
		DetectionRate:   snap.DetectionRate,
		LastDetection:   snap.LastDetection,
		TotalCaptures:   snap.TotalCaptures,
	}
	for _, c := range snap.RecentCaptures {
		if c.DetectionInfo.BirdSpecies != "" {
			st.LastSpecies = c.DetectionInfo.BirdSpecies
			break
		}
	}
	return st
}
