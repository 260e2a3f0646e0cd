// Package species guesses bird species from the size and colour of a detection box.
package species

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"birdwatch-go/internal/core/models"
)

// Size classes by bounding box area in pixels
const (
	LargeArea  = 40000
	MediumArea = 15000
)

// Colour thresholds on the 0..179 hue and 0..255 saturation/value scales
const (
	darkValue        = 80
	redHueLow        = 15
	redHueHigh       = 165
	blueHueLow       = 90
	blueHueHigh      = 130
	brownSaturation  = 100
	minHueSaturation = 30 // pixels below this carry no usable hue
)

// Candidates lists the species guessed for each size/colour class
var Candidates = map[string][]string{
	"large_dark":   {"Crow", "Raven", "Blackbird"},
	"large_brown":  {"Hawk", "Eagle", "Owl"},
	"medium_red":   {"Cardinal", "Robin"},
	"medium_blue":  {"Blue Jay", "Bluebird"},
	"medium_brown": {"Sparrow", "Finch"},
	"small_any":    {"Wren", "Chickadee", "Nuthatch"},
}

// Features are the colour statistics of a box
type Features struct {
	DominantHue    int // -1 when no pixel is saturated enough
	MeanSaturation float64
	MeanValue      float64
}

// RuleClassifier implements detection.SpeciesClassifier with fixed size and colour rules
type RuleClassifier struct{}

// NewRuleClassifier creates the rule based classifier
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify returns a species guess for the bird inside box
func (c *RuleClassifier) Classify(ctx context.Context, frame models.Frame, box models.Box) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if frame.Image == nil {
		return "", fmt.Errorf("frame has no image")
	}
	region := box.Rect().Intersect(frame.Image.Bounds())
	if region.Empty() {
		return "", fmt.Errorf("box %v lies outside the frame", box)
	}

	f := Analyze(frame.Image, region)
	return Decide(box.Area(), f), nil
}

// Analyze computes the colour features of img inside region
func Analyze(img image.Image, region image.Rectangle) Features {
	var hist [180]int
	var satSum, valSum float64
	n := 0

	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			h, s, v := hsv(img.At(x, y))
			satSum += float64(s)
			valSum += float64(v)
			n++
			if s >= minHueSaturation {
				hist[h]++
			}
		}
	}

	f := Features{DominantHue: -1}
	if n == 0 {
		return f
	}
	f.MeanSaturation = satSum / float64(n)
	f.MeanValue = valSum / float64(n)

	best := 0
	for h, count := range hist {
		if count > best {
			best, f.DominantHue = count, h
		}
	}
	return f
}

// ColourClass maps colour features onto dark, red, blue, brown or other
func ColourClass(f Features) string {
	switch {
	case f.MeanValue < darkValue:
		return "dark"
	case f.DominantHue >= 0 && (f.DominantHue < redHueLow || f.DominantHue > redHueHigh):
		return "red"
	case f.DominantHue > blueHueLow && f.DominantHue < blueHueHigh:
		return "blue"
	case f.MeanSaturation < brownSaturation:
		return "brown"
	default:
		return "other"
	}
}

// SizeClass maps a box area onto large, medium or small
func SizeClass(area int) string {
	switch {
	case area > LargeArea:
		return "large"
	case area > MediumArea:
		return "medium"
	default:
		return "small"
	}
}

// Decide picks a species for a box of the given area and colour.
// The dominant hue selects among the candidates so the result is stable.
func Decide(area int, f Features) string {
	colour := ColourClass(f)

	var key string
	switch SizeClass(area) {
	case "large":
		switch colour {
		case "dark":
			key = "large_dark"
		case "brown", "other":
			key = "large_brown"
		default:
			return "Large Bird"
		}
	case "medium":
		switch colour {
		case "red", "blue", "brown":
			key = "medium_" + colour
		case "other":
			key = "medium_brown"
		default:
			return "Medium Bird"
		}
	default:
		key = "small_any"
	}

	list := Candidates[key]
	idx := 0
	if f.DominantHue > 0 {
		idx = f.DominantHue % len(list)
	}
	return list[idx]
}

// hsv converts a colour to OpenCV style HSV: hue 0..179, saturation and value 0..255
func hsv(c color.Color) (int, int, int) {
	r16, g16, b16, _ := c.RGBA()
	r, g, b := int(r16>>8), int(g16>>8), int(b16>>8)

	maxC := max(r, g, b)
	minC := min(r, g, b)
	delta := maxC - minC

	v := maxC
	s := 0
	if maxC > 0 {
		s = delta * 255 / maxC
	}
	if delta == 0 {
		return 0, s, v
	}

	var deg float64
	switch maxC {
	case r:
		deg = 60 * float64(g-b) / float64(delta)
	case g:
		deg = 120 + 60*float64(b-r)/float64(delta)
	default:
		deg = 240 + 60*float64(r-g)/float64(delta)
	}
	if deg < 0 {
		deg += 360
	}
	h := int(deg / 2)
	if h >= 180 {
		h = 179
	}
	return h, s, v
}
