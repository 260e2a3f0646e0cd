package motion

import (
	"image"
	"image/color"
)

// luma converts an image into a tightly packed 8-bit luminance plane.
// Common decoder outputs take a fast path, anything else goes through color.GrayModel.
func luma(img image.Image) ([]uint8, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)

	switch src := img.(type) {
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			row := src.YOffset(b.Min.X, b.Min.Y+y)
			copy(out[y*w:(y+1)*w], src.Y[row:row+w])
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out[y*w:(y+1)*w], src.Pix[row:row+w])
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				p := src.Pix[off+x*4 : off+x*4+3 : off+x*4+3]
				out[y*w+x] = uint8((299*int(p[0]) + 587*int(p[1]) + 114*int(p[2])) / 1000)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				out[y*w+x] = g.Y
			}
		}
	}
	return out, w, h
}

// changedRatio returns the fraction of pixels whose luminance moved by more than threshold
func changedRatio(prev, cur []uint8, threshold int) float64 {
	if len(prev) == 0 || len(prev) != len(cur) {
		return 0
	}
	changed := 0
	for i := range cur {
		d := int(cur[i]) - int(prev[i])
		if d < 0 {
			d = -d
		}
		if d > threshold {
			changed++
		}
	}
	return float64(changed) / float64(len(cur))
}
