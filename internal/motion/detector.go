package motion

import (
	"fmt"
	"image"
	"sync"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/errors"

	log "github.com/sirupsen/logrus"
)

// Detector compares each frame with the previous one and decides whether the
// frame should be handed to object detection.
type Detector struct {
	pixelThreshold  int
	minChangedRatio float64
	cooldown        time.Duration

	mu          sync.Mutex
	baseline    []uint8
	width       int
	height      int
	lastTrigger time.Time
	triggered   bool // at least one trigger happened
	lastScore   float64
}

// NewDetector creates a motion detector from the motion configuration
func NewDetector(cfg config.MotionConfig) *Detector {
	return &Detector{
		pixelThreshold:  cfg.PixelThreshold,
		minChangedRatio: cfg.MinChangedRatio,
		cooldown:        cfg.Cooldown,
	}
}

// Observe feeds the next frame to the detector and reports whether it triggers.
//
// The first frame and frames following a resolution change only seed the
// baseline. Corrupt frames are skipped and leave the baseline untouched.
// The cooldown is measured on frame timestamps.
func (d *Detector) Observe(frame models.Frame) bool {
	if err := checkFrame(frame); err != nil {
		log.WithFields(log.Fields{
			"timestamp": frame.Timestamp,
			"error":     err,
		}).Warn("Skipping corrupt frame")
		return false
	}

	cur, w, h := luma(frame.Image)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.baseline == nil || w != d.width || h != d.height {
		if d.baseline != nil {
			log.Infof("Frame resolution changed from %dx%d to %dx%d, reseeding motion baseline", d.width, d.height, w, h)
		}
		d.baseline, d.width, d.height = cur, w, h
		d.lastScore = 0
		return false
	}

	score := changedRatio(d.baseline, cur, d.pixelThreshold)
	d.baseline = cur
	d.lastScore = score

	if score < d.minChangedRatio {
		return false
	}
	if d.triggered && frame.Timestamp.Sub(d.lastTrigger) < d.cooldown {
		log.Debugf("Motion %.4f within cooldown, not triggering", score)
		return false
	}

	d.triggered = true
	d.lastTrigger = frame.Timestamp
	log.WithField("score", fmt.Sprintf("%.4f", score)).Debug("Motion triggered")
	return true
}

// Score returns the changed-pixel ratio of the last compared frame
func (d *Detector) Score() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastScore
}

// Reset drops the baseline and the cooldown state
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = nil
	d.width, d.height = 0, 0
	d.triggered = false
	d.lastTrigger = time.Time{}
	d.lastScore = 0
}

// checkFrame rejects frames that cannot be read without going out of bounds
func checkFrame(frame models.Frame) error {
	if frame.Image == nil {
		return corrupt("frame has no image")
	}
	b := frame.Image.Bounds()
	if b.Empty() {
		return corrupt("frame image is empty")
	}
	if frame.Width != 0 && frame.Height != 0 && (frame.Width != b.Dx() || frame.Height != b.Dy()) {
		return corrupt(fmt.Sprintf("frame size %dx%d does not match image %dx%d", frame.Width, frame.Height, b.Dx(), b.Dy()))
	}

	switch img := frame.Image.(type) {
	case *image.YCbCr:
		if len(img.Y) < img.YOffset(b.Max.X-1, b.Max.Y-1)+1 {
			return corrupt("truncated luma plane")
		}
	case *image.Gray:
		if len(img.Pix) < img.PixOffset(b.Max.X-1, b.Max.Y-1)+1 {
			return corrupt("truncated pixel buffer")
		}
	case *image.RGBA:
		if len(img.Pix) < img.PixOffset(b.Max.X-1, b.Max.Y-1)+4 {
			return corrupt("truncated pixel buffer")
		}
	}
	return nil
}

func corrupt(msg string) error {
	return errors.Newf("%s", msg).Category(errors.CategoryTransient).Component("motion").Build()
}
