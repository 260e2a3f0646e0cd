// Package cleanup removes captures past their retention age and image files
// without metadata.
package cleanup

import (
	"context"
	"time"

	"birdwatch-go/internal/errors"
	"birdwatch-go/internal/observability/metrics"

	log "github.com/sirupsen/logrus"
)

// Store is the part of the capture store the cleanup runs against
type Store interface {
	PurgeOlderThan(cutoff time.Time) (int, error)
	EvictIfOverCapacity() (int, error)
	SweepOrphans() (int, error)
}

// Service runs the cleanup cycle on a ticker
type Service struct {
	store         Store
	retentionDays int // 0 keeps captures until evicted by capacity
	checkInterval time.Duration
	metrics       *metrics.PipelineMetrics
	now           func() time.Time
}

// NewService creates a cleanup service
func NewService(store Store, retentionDays int, checkInterval time.Duration, m *metrics.PipelineMetrics) *Service {
	if checkInterval <= 0 {
		checkInterval = time.Hour
	}
	log.Infof("Initializing cleanup service: retention_days=%d, interval=%s", retentionDays, checkInterval)
	return &Service{
		store:         store,
		retentionDays: retentionDays,
		checkInterval: checkInterval,
		metrics:       m,
		now:           time.Now,
	}
}

// Result is the outcome of one cleanup cycle
type Result struct {
	Expired  int
	Evicted  int // over capacity, e.g. after max_captures was lowered
	Orphaned int
}

// Run performs one cycle right away and then one per interval until ctx is done
func (s *Service) Run(ctx context.Context) error {
	s.RunCleanupCycle()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunCleanupCycle()
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return nil
		}
	}
}

// RunCleanupCycle deletes captures older than the retention period, the oldest
// captures above the capacity and image files the metadata does not know about. Failures are logged and the next
// cycle tries again.
func (s *Service) RunCleanupCycle() Result {
	var res Result

	if s.retentionDays > 0 {
		cutoff := s.now().AddDate(0, 0, -s.retentionDays)
		n, err := s.store.PurgeOlderThan(cutoff)
		if err != nil {
			log.WithFields(errors.FieldsOf(err)).WithError(err).Error("Cleanup: failed to delete expired captures")
		}
		res.Expired = n
		if n > 0 {
			log.Infof("Cleanup: deleted %d capture(s) older than %s", n, cutoff.Format(time.RFC3339))
		}
	}

	n, err := s.store.EvictIfOverCapacity()
	if err != nil {
		log.WithFields(errors.FieldsOf(err)).WithError(err).Error("Cleanup: failed to evict captures over capacity")
	}
	res.Evicted = n
	if n > 0 {
		log.Infof("Cleanup: evicted %d capture(s) over capacity", n)
	}

	n, err = s.store.SweepOrphans()
	if err != nil {
		log.WithFields(errors.FieldsOf(err)).WithError(err).Error("Cleanup: failed to sweep orphan files")
	}
	res.Orphaned = n
	if n > 0 {
		log.Infof("Cleanup: removed %d orphan file(s)", n)
	}

	s.metrics.CapturesEvicted(res.Expired + res.Evicted)
	return res
}
