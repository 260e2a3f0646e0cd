// Package status classifies session liveness from the time of the last detection
// and renders the texts shown next to it.
package status

import (
	"fmt"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/errors"
)

// Status is the coarse liveness of the session
type Status string

const (
	Active Status = "active"
	Recent Status = "recent"
	Idle   Status = "idle"
	NoData Status = "no_data"
)

// All lists every status, most urgent first
var All = []Status{Active, Recent, Idle, NoData}

// Key returns the fixed CSS style key of the status, e.g. "status-active"
func (s Status) Key() string {
	return "status-" + string(s)
}

// Thresholds are the upper bounds of the active and recent buckets.
// Both bounds are inclusive.
type Thresholds struct {
	Active time.Duration
	Recent time.Duration
}

// DefaultThresholds returns one hour for active and one day for recent
func DefaultThresholds() Thresholds {
	return Thresholds{Active: time.Hour, Recent: 24 * time.Hour}
}

// FromConfig builds thresholds from the status configuration
func FromConfig(cfg config.StatusConfig) Thresholds {
	return Thresholds{Active: cfg.Active, Recent: cfg.Recent}
}

// Validate rejects thresholds that would leave a gap or an overlap
func (t Thresholds) Validate() error {
	var v errors.ValidationErrors
	if t.Active <= 0 {
		v.Add("active threshold must be positive (got %s)", t.Active)
	}
	if t.Recent <= t.Active {
		v.Add("recent threshold (%s) must be greater than active threshold (%s)", t.Recent, t.Active)
	}
	return v.Err()
}

// Classify maps the time since the last detection onto a status.
//
//	no last detection, or one before the session start -> no_data
//	elapsed <= Active                                   -> active
//	Active < elapsed <= Recent                          -> recent
//	elapsed > Recent                                    -> idle
//
// A last detection in the future (clock skew) counts as active.
func Classify(now time.Time, lastDetection *time.Time, sessionStart time.Time, th Thresholds) Status {
	if lastDetection == nil || lastDetection.Before(sessionStart) {
		return NoData
	}
	elapsed := now.Sub(*lastDetection)
	switch {
	case elapsed <= th.Active:
		return Active
	case elapsed <= th.Recent:
		return Recent
	default:
		return Idle
	}
}

// FormatDuration renders d like "0:05:03" or "2 days, 1:02:03".
// Fractions of a second are dropped, negative durations render as zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	rest := total % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rest/3600, rest%3600/60, rest%60)

	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}
