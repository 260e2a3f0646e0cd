package motion

import (
	"image"
	"image/color"
	"testing"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/core/models"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func grayImage(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// patch returns a copy of base with a brightened square of side n
func patch(base *image.Gray, n int) *image.Gray {
	img := image.NewGray(base.Bounds())
	copy(img.Pix, base.Pix)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			img.SetGray(x, y, color.Gray{Y: 250})
		}
	}
	return img
}

func frameAt(sec float64, img image.Image) models.Frame {
	return models.NewFrame(t0.Add(time.Duration(sec*float64(time.Second))), img)
}

func newTestDetector() *Detector {
	return NewDetector(config.MotionConfig{
		PixelThreshold:  25,
		MinChangedRatio: 0.05,
		Cooldown:        2 * time.Second,
	})
}

func TestFirstFrameSeedsBaseline(t *testing.T) {
	t.Parallel()
	d := newTestDetector()

	assert.False(t, d.Observe(frameAt(0, grayImage(20, 20, 10))))
	assert.False(t, d.Observe(frameAt(1, grayImage(20, 20, 10))))
	assert.Zero(t, d.Score())
}

func TestTriggersOnChangeAboveRatio(t *testing.T) {
	t.Parallel()
	d := newTestDetector()
	base := grayImage(20, 20, 10)

	d.Observe(frameAt(0, base))
	// 4 of 400 pixels changed: below 5%
	assert.False(t, d.Observe(frameAt(1, patch(base, 2))))
	// back to base: 4 pixels changed again, still below
	assert.False(t, d.Observe(frameAt(2, base)))
	// 100 of 400 pixels changed
	assert.True(t, d.Observe(frameAt(3, patch(base, 10))))
	assert.InDelta(t, 0.25, d.Score(), 1e-9)
}

func TestCooldownSuppressesRepeatedTriggers(t *testing.T) {
	t.Parallel()
	d := newTestDetector()
	base := grayImage(20, 20, 10)
	moved := patch(base, 10)

	d.Observe(frameAt(0, base))
	assert.True(t, d.Observe(frameAt(1, moved)))
	assert.False(t, d.Observe(frameAt(1.5, base)), "inside cooldown")
	assert.False(t, d.Observe(frameAt(2.9, moved)), "inside cooldown")
	assert.True(t, d.Observe(frameAt(3, base)), "cooldown elapsed exactly")
}

func TestZeroCooldownTriggersEveryChange(t *testing.T) {
	t.Parallel()
	d := NewDetector(config.MotionConfig{PixelThreshold: 25, MinChangedRatio: 0.05})
	base := grayImage(10, 10, 0)
	moved := patch(base, 8)

	d.Observe(frameAt(0, base))
	assert.True(t, d.Observe(frameAt(0, moved)))
	assert.True(t, d.Observe(frameAt(0, base)))
}

func TestCorruptFrameIsSkippedWithoutTouchingBaseline(t *testing.T) {
	t.Parallel()
	d := newTestDetector()
	base := grayImage(20, 20, 10)

	d.Observe(frameAt(0, base))

	assert.False(t, d.Observe(models.Frame{Timestamp: t0.Add(time.Second)}))

	truncated := grayImage(20, 20, 200)
	truncated.Pix = truncated.Pix[:10]
	assert.False(t, d.Observe(frameAt(1, truncated)))

	mismatched := models.Frame{Timestamp: t0, Image: grayImage(20, 20, 200), Width: 10, Height: 10}
	assert.False(t, d.Observe(mismatched))

	// baseline is still the dark frame, so a bright frame is full motion
	assert.True(t, d.Observe(frameAt(2, grayImage(20, 20, 200))))
	assert.InDelta(t, 1.0, d.Score(), 1e-9)
}

func TestResolutionChangeReseeds(t *testing.T) {
	t.Parallel()
	d := newTestDetector()

	d.Observe(frameAt(0, grayImage(20, 20, 10)))
	assert.False(t, d.Observe(frameAt(5, grayImage(40, 30, 200))))
	assert.True(t, d.Observe(frameAt(6, grayImage(40, 30, 10))))
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()
	d := newTestDetector()
	base := grayImage(20, 20, 10)

	d.Observe(frameAt(0, base))
	assert.True(t, d.Observe(frameAt(1, patch(base, 10))))

	d.Reset()
	assert.False(t, d.Observe(frameAt(1.1, base)), "first frame after reset seeds")
	assert.True(t, d.Observe(frameAt(1.2, patch(base, 10))), "cooldown cleared by reset")
}

func TestLumaHandlesColourImages(t *testing.T) {
	t.Parallel()

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	rgba.Set(1, 0, color.RGBA{A: 255})
	plane, w, h := luma(rgba)
	assert.Equal(t, 2, w)
	assert.Equal(t, 1, h)
	assert.Equal(t, []uint8{255, 0}, plane)

	ycc := image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio420)
	ycc.Y[0] = 77
	plane, _, _ = luma(ycc)
	assert.Equal(t, uint8(77), plane[0])

	nrgba := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	nrgba.Set(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	plane, _, _ = luma(nrgba)
	assert.Equal(t, uint8(255), plane[0])
}
