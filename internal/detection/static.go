package detection

import (
	"context"

	"birdwatch-go/internal/core/models"
)

// NoopBackend never finds anything. It is used when object detection is
// disabled so motion events are still captured and counted.
type NoopBackend struct{}

// Detect returns no detections
func (NoopBackend) Detect(ctx context.Context, _ models.Frame) ([]models.Detection, error) {
	return nil, ctx.Err()
}
