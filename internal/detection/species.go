package detection

import (
	"context"
	"fmt"
	"time"

	"birdwatch-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// SpeciesClassifier names the species of a bird inside box. An empty name means unknown.
type SpeciesClassifier interface {
	Classify(ctx context.Context, frame models.Frame, box models.Box) (string, error)
}

// Refiner adds species names to bird detections
type Refiner struct {
	classifier SpeciesClassifier
	timeout    time.Duration
}

// NewRefiner creates a refiner. A nil classifier leaves every species unknown.
func NewRefiner(classifier SpeciesClassifier, timeout time.Duration) *Refiner {
	return &Refiner{classifier: classifier, timeout: timeout}
}

// Refine returns a copy of dets where each bird carries the classified species.
// Classifier failures and timeouts leave the species empty, the bird detection is kept.
func (r *Refiner) Refine(ctx context.Context, frame models.Frame, dets []models.Detection) []models.Detection {
	out := make([]models.Detection, len(dets))
	copy(out, dets)
	if r == nil || r.classifier == nil {
		return out
	}

	for i := range out {
		if out[i].Label != models.LabelBird || out[i].Species != "" {
			continue
		}
		species, err := r.classify(ctx, frame, out[i].Box)
		if err != nil {
			log.WithFields(log.Fields{
				"box":   out[i].Box,
				"error": err,
			}).Warn("Species classification failed, keeping bird without species")
			continue
		}
		out[i].Species = species
	}
	return out
}

func (r *Refiner) classify(ctx context.Context, frame models.Frame, box models.Box) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		species string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("classifier panic: %v", p)}
			}
		}()
		s, err := r.classifier.Classify(callCtx, frame, box)
		ch <- result{species: s, err: err}
	}()

	select {
	case res := <-ch:
		return res.species, res.err
	case <-callCtx.Done():
		return "", fmt.Errorf("species classification timed out after %s: %w", r.timeout, callCtx.Err())
	}
}
