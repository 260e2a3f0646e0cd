// Package source defines the frame source the pipeline samples from.
package source

import (
	"context"
	"fmt"

	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/errors"
)

// ErrCorruptFrame marks a single frame that could not be decoded. The stream
// itself is still usable and the caller should read the next frame.
var ErrCorruptFrame = errors.NewStd("corrupt frame")

// Source opens streams of frames, e.g. a camera or a directory of images
type Source interface {
	Open(ctx context.Context) (Stream, error)
	Name() string
}

// Stream is one connection to a source. Next returns io.EOF at the end of the
// stream; any error other than ErrCorruptFrame ends the stream.
type Stream interface {
	Next(ctx context.Context) (models.Frame, error)
	Close() error
}

// CorruptFrame wraps the decode error of a frame so it matches ErrCorruptFrame
func CorruptFrame(cause error) error {
	return errors.New(fmt.Errorf("%w: %w", ErrCorruptFrame, cause)).
		Category(errors.CategoryTransient).
		Component("source").
		Build()
}

// Disconnected wraps a stream or open failure as a transient error
func Disconnected(name string, cause error) error {
	return errors.New(fmt.Errorf("source %s: %w", name, cause)).
		Category(errors.CategoryTransient).
		Component("source").
		Context("source", name).
		Build()
}
