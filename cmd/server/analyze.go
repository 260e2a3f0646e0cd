package main

import (
	"fmt"
	"io"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/capture"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/db"
	"birdwatch-go/internal/db/repository"
	"birdwatch-go/internal/stats"
	"birdwatch-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// analyze rebuilds the statistics from every stored capture, oldest first.
// Each capture stands for one motion event that reached inference.
func analyze(w io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.SetLevel(log.WarnLevel)
	timezone.Initialize(cfg.Server.Timezone)

	database, err := db.Initialize(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close(database)

	store, err := capture.NewStore(cfg.Server.CaptureDir, repository.NewSQLiteRepository(database), cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to open capture store: %w", err)
	}

	agg, err := rebuild(store)
	if err != nil {
		return err
	}
	return agg.WriteSummary(w, time.Now())
}

type captureIterator interface {
	ForEach(fn func(c models.Capture) error) error
}

func rebuild(store captureIterator) (*stats.Aggregator, error) {
	var agg *stats.Aggregator
	skipped := 0
	err := store.ForEach(func(c models.Capture) error {
		if agg == nil {
			agg = stats.NewAggregator(c.CreatedAt)
		}
		agg.RecordMotionEvent()
		if err := agg.RecordDetections(c.Detections, c.CreatedAt); err != nil {
			skipped++
			log.WithError(err).Warnf("Skipping detections of capture %s", c.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read captures: %w", err)
	}
	if agg == nil {
		agg = stats.NewAggregator(time.Now())
	}
	if skipped > 0 {
		log.Warnf("%d capture(s) had invalid detections", skipped)
	}
	return agg, nil
}
