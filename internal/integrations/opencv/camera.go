package opencv

import (
	"context"
	"fmt"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/source"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// CameraSource reads frames from a local camera or a stream URL through gocv.
// It implements source.Source.
type CameraSource struct {
	cfg config.CameraConfig
}

// NewCameraSource creates a camera source. The device is opened on Open.
func NewCameraSource(cfg config.CameraConfig) *CameraSource {
	return &CameraSource{cfg: cfg}
}

// Name implements source.Source
func (c *CameraSource) Name() string {
	return "camera:" + c.cfg.Device
}

// Open implements source.Source
func (c *CameraSource) Open(ctx context.Context) (source.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// a numeric device string selects a local camera, anything else is a file or URL
	capture, err := gocv.OpenVideoCapture(c.cfg.Device)
	if err != nil {
		return nil, source.Disconnected(c.Name(), err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, source.Disconnected(c.Name(), fmt.Errorf("device did not open"))
	}

	capture.Set(gocv.VideoCaptureBufferSize, 1)
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}

	log.WithFields(log.Fields{
		"device": c.cfg.Device,
		"width":  capture.Get(gocv.VideoCaptureFrameWidth),
		"height": capture.Get(gocv.VideoCaptureFrameHeight),
		"fps":    capture.Get(gocv.VideoCaptureFPS),
	}).Info("Camera opened")

	var interval time.Duration
	if c.cfg.FPS > 0 {
		interval = time.Duration(float64(time.Second) / c.cfg.FPS)
	}
	return &cameraStream{
		name:     c.Name(),
		capture:  capture,
		mat:      gocv.NewMat(),
		interval: interval,
	}, nil
}

type cameraStream struct {
	name     string
	capture  *gocv.VideoCapture
	mat      gocv.Mat
	interval time.Duration
	lastRead time.Time
}

// Next reads the next frame, paced to at most one frame per interval
func (s *cameraStream) Next(ctx context.Context) (models.Frame, error) {
	if wait := s.interval - time.Since(s.lastRead); !s.lastRead.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.Frame{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}

	s.lastRead = time.Now()
	if ok := s.capture.Read(&s.mat); !ok {
		return models.Frame{}, source.Disconnected(s.name, fmt.Errorf("read failed"))
	}
	if s.mat.Empty() {
		return models.Frame{}, source.CorruptFrame(fmt.Errorf("empty frame"))
	}

	// ToImage copies the pixels, so the matrix can be reused for the next read
	img, err := s.mat.ToImage()
	if err != nil {
		return models.Frame{}, source.CorruptFrame(err)
	}
	return models.NewFrame(s.lastRead, img), nil
}

func (s *cameraStream) Close() error {
	if err := s.mat.Close(); err != nil {
		log.WithError(err).Debug("Failed to release frame buffer")
	}
	return s.capture.Close()
}
