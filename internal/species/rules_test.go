package species

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"birdwatch-go/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, c color.Color) models.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return models.NewFrame(time.Now(), img)
}

func TestHSVMatchesOpenCVScale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		c       color.RGBA
		h, s, v int
	}{
		{"red", color.RGBA{R: 255, A: 255}, 0, 255, 255},
		{"green", color.RGBA{G: 255, A: 255}, 60, 255, 255},
		{"blue", color.RGBA{B: 255, A: 255}, 120, 255, 255},
		{"grey", color.RGBA{R: 128, G: 128, B: 128, A: 255}, 0, 0, 128},
		{"black", color.RGBA{A: 255}, 0, 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, s, v := hsv(tt.c)
			assert.Equal(t, tt.h, h)
			assert.Equal(t, tt.s, s)
			assert.Equal(t, tt.v, v)
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		colour color.RGBA
		box    models.Box
		want   string
	}{
		{"medium red", color.RGBA{R: 255, A: 255}, models.Box{Width: 200, Height: 100}, "Cardinal"},
		{"medium blue", color.RGBA{B: 255, A: 255}, models.Box{Width: 200, Height: 100}, "Blue Jay"},
		{"large dark", color.RGBA{R: 20, G: 20, B: 20, A: 255}, models.Box{Width: 250, Height: 200}, "Crow"},
		{"large dull green", color.RGBA{R: 100, G: 130, B: 110, A: 255}, models.Box{Width: 250, Height: 200}, "Eagle"},
		{"large red", color.RGBA{R: 255, A: 255}, models.Box{Width: 250, Height: 200}, "Large Bird"},
		{"medium dark", color.RGBA{R: 10, G: 10, B: 10, A: 255}, models.Box{Width: 200, Height: 100}, "Medium Bird"},
		{"small grey", color.RGBA{R: 128, G: 128, B: 128, A: 255}, models.Box{Width: 10, Height: 10}, "Wren"},
	}

	c := NewRuleClassifier()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frame := solidFrame(300, 300, tt.colour)
			got, err := c.Classify(context.Background(), frame, tt.box)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	t.Parallel()

	c := NewRuleClassifier()
	frame := solidFrame(300, 300, color.RGBA{R: 90, G: 160, B: 120, A: 255})
	box := models.Box{X: 10, Y: 10, Width: 150, Height: 120}

	first, err := c.Classify(context.Background(), frame, box)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Classify(context.Background(), frame, box)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClassifyRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	c := NewRuleClassifier()
	frame := solidFrame(50, 50, color.RGBA{R: 255, A: 255})

	_, err := c.Classify(context.Background(), frame, models.Box{X: 100, Y: 100, Width: 10, Height: 10})
	assert.Error(t, err)

	_, err = c.Classify(context.Background(), models.Frame{}, models.Box{Width: 10, Height: 10})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Classify(ctx, frame, models.Box{Width: 10, Height: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyClipsBoxToFrame(t *testing.T) {
	t.Parallel()

	c := NewRuleClassifier()
	frame := solidFrame(50, 50, color.RGBA{B: 255, A: 255})

	got, err := c.Classify(context.Background(), frame, models.Box{X: 40, Y: 40, Width: 200, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, "Blue Jay", got, "area comes from the box, colour from the visible part")
}

func TestSizeClassBoundaries(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "small", SizeClass(MediumArea))
	assert.Equal(t, "medium", SizeClass(MediumArea+1))
	assert.Equal(t, "medium", SizeClass(LargeArea))
	assert.Equal(t, "large", SizeClass(LargeArea+1))
}
