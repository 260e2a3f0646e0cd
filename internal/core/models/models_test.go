package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxFromCorners(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		x1, y1, x2, y2 int
		want           Box
	}{
		{"ordered", 10, 20, 50, 80, Box{X: 10, Y: 20, Width: 40, Height: 60}},
		{"swapped x", 50, 20, 10, 80, Box{X: 10, Y: 20, Width: 40, Height: 60}},
		{"swapped both", 50, 80, 10, 20, Box{X: 10, Y: 20, Width: 40, Height: 60}},
		{"degenerate", 30, 30, 30, 30, Box{X: 30, Y: 30}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := BoxFromCorners(tt.x1, tt.y1, tt.x2, tt.y2)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got.Width, 0)
			assert.GreaterOrEqual(t, got.Height, 0)
		})
	}
}

func TestCaptureInfo(t *testing.T) {
	t.Parallel()

	c := Capture{Detections: []Detection{
		{Label: LabelBird, Confidence: 0.7},
		{Label: LabelPerson, Confidence: 0.9},
		{Label: LabelBird, Confidence: 0.6, Species: "Robin"},
	}}
	assert.Equal(t, DetectionInfo{HasPerson: true, HasBird: true, BirdSpecies: "Robin"}, c.Info())
}
