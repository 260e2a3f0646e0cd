package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/status"
	"birdwatch-go/internal/util/timezone"
)

// SpeciesCount is one row of the species table
type SpeciesCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SortedSpecies orders a species histogram by count, highest first, then by name
func SortedSpecies(hist map[string]int) []SpeciesCount {
	out := make([]SpeciesCount, 0, len(hist))
	for name, n := range hist {
		out = append(out, SpeciesCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SortedLabels returns the labels of counts, known labels first in their fixed order
func SortedLabels[V any](counts map[models.Label]V) []models.Label {
	labels := make([]models.Label, 0, len(counts))
	known := make(map[models.Label]bool, len(models.KnownLabels))
	for _, l := range models.KnownLabels {
		known[l] = true
		if _, ok := counts[l]; ok {
			labels = append(labels, l)
		}
	}
	var extra []models.Label
	for l := range counts {
		if !known[l] {
			extra = append(extra, l)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(labels, extra...)
}

const summaryRule = "============================================================"

// WriteSummary writes the human readable session report
func (a *Aggregator) WriteSummary(w io.Writer, now time.Time) error {
	s := a.Snapshot()
	confidence := a.ConfidenceAverages()
	hourly := a.HourlyBreakdown(now, 6)

	var b strings.Builder
	fmt.Fprintln(&b, summaryRule)
	fmt.Fprintln(&b, "DETECTION SUMMARY")
	fmt.Fprintln(&b, summaryRule)
	fmt.Fprintf(&b, "Session started: %s\n", timezone.Format(s.SessionStart, "2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Running for: %s\n", status.FormatDuration(now.Sub(s.SessionStart)))
	fmt.Fprintf(&b, "Motion events: %d\n", s.MotionEvents)
	fmt.Fprintf(&b, "Total detections: %d\n", s.TotalDetections)
	fmt.Fprintf(&b, "Detection rate: %.1f%%\n", DetectionRate(s.TotalDetections, s.MotionEvents))

	fmt.Fprintln(&b, "\nDetection counts:")
	for _, l := range SortedLabels(s.Detections) {
		fmt.Fprintf(&b, "   %s: %d\n", l, s.Detections[l])
	}

	if len(s.BirdSpecies) > 0 {
		fmt.Fprintln(&b, "\nBird species:")
		for _, sc := range SortedSpecies(s.BirdSpecies) {
			fmt.Fprintf(&b, "   %s: %d\n", sc.Name, sc.Count)
		}
	}

	fmt.Fprintln(&b, "\nConfidence averages:")
	for _, l := range SortedLabels(confidence) {
		c := confidence[l]
		if c.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "   %s: %.2f (min: %.2f, max: %.2f, count: %d)\n", l, c.Average, c.Min, c.Max, c.Count)
	}

	fmt.Fprintln(&b, "\nRecent activity (last 6 hours):")
	for _, bucket := range hourly {
		if bucket.Counts.Total() == 0 {
			continue
		}
		fmt.Fprintf(&b, "   %s: %dP, %dD, %dB\n", bucket.Label,
			bucket.Counts[models.LabelPerson], bucket.Counts[models.LabelDog], bucket.Counts[models.LabelBird])
	}
	fmt.Fprintln(&b, summaryRule)

	_, err := io.WriteString(w, b.String())
	return err
}

// LiveLine returns the one line status written to the log periodically
func (a *Aggregator) LiveLine(now time.Time) string {
	s := a.Snapshot()
	elapsed := now.Sub(s.SessionStart)
	if elapsed < 0 {
		elapsed = 0
	}
	return fmt.Sprintf("Running %dh %02dm | Motion: %d | person %d, dog %d, bird %d | Total: %d",
		int(elapsed.Hours()), int(elapsed.Minutes())%60, s.MotionEvents,
		s.Detections[models.LabelPerson], s.Detections[models.LabelDog], s.Detections[models.LabelBird],
		s.TotalDetections)
}
