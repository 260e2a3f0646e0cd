// Package opencv holds the gocv based detection backend and camera source.
package opencv

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"birdwatch-go/config"
	"birdwatch-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// SSD MobileNet input size
const (
	inputWidth  = 300
	inputHeight = 300
)

// cocoLabels maps the COCO class ids of the SSD model to the labels the pipeline counts
var cocoLabels = map[int]models.Label{
	1:  models.LabelPerson,
	16: models.LabelBird,
	18: models.LabelDog,
}

// Detector runs an SSD MobileNet network through the OpenCV DNN module.
// It implements detection.Backend.
type Detector struct {
	mu            sync.Mutex // gocv.Net is not safe for concurrent use
	net           gocv.Net
	minConfidence float64
}

// NewDetector loads the network from the model and config files of cfg
func NewDetector(cfg config.DetectionConfig) (*Detector, error) {
	for _, path := range []string{cfg.ModelPath, cfg.ConfigPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("detection model file %s: %w", path, err)
		}
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection network from %s", cfg.ModelPath)
	}

	backend, target := selectBackend(cfg.Backend, cfg.Target)
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set detection backend: %w", err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set detection target: %w", err)
	}

	log.WithFields(log.Fields{
		"model":   cfg.ModelPath,
		"backend": backend,
		"target":  target,
	}).Info("Detection network loaded")

	return &Detector{net: net, minConfidence: cfg.MinConfidence}, nil
}

// Detect returns the persons, dogs and birds found in frame
func (d *Detector) Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("frame has no image")
	}

	img, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("frame converted to an empty matrix")
	}

	// ImageToMatRGB yields RGB order already, so the channels are not swapped
	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(inputWidth, inputHeight),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	// SSD output is [1, 1, N, 7]: image id, class id, confidence, left, top, right, bottom
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols, height := img.Cols(), img.Rows()
	var dets []models.Detection
	for i := 0; i < rows.Rows(); i++ {
		row := [7]float32{}
		for j := range row {
			row[j] = rows.GetFloatAt(i, j)
		}
		det, ok := decodeRow(row, cols, height, d.minConfidence)
		if ok {
			dets = append(dets, det)
		}
	}
	return dets, nil
}

// decodeRow converts one SSD output row into a detection in pixel coordinates.
// Classes other than person, dog and bird are ignored.
func decodeRow(row [7]float32, width, height int, minConfidence float64) (models.Detection, bool) {
	confidence := float64(row[2])
	if !(confidence >= minConfidence) {
		return models.Detection{}, false
	}
	label, ok := cocoLabels[int(row[1])]
	if !ok {
		return models.Detection{}, false
	}

	clamp := func(v float32, limit int) int {
		p := int(v * float32(limit))
		return min(max(p, 0), limit)
	}
	left, top := clamp(row[3], width), clamp(row[4], height)
	right, bottom := clamp(row[5], width), clamp(row[6], height)

	return models.Detection{
		Label:      label,
		Confidence: min(confidence, 1),
		Box:        models.BoxFromCorners(left, top, right, bottom),
	}, true
}

// Close releases the network
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
