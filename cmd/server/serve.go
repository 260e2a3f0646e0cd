package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/api/handlers"
	"birdwatch-go/internal/capture"
	"birdwatch-go/internal/cleanup"
	"birdwatch-go/internal/core/processor"
	"birdwatch-go/internal/db"
	"birdwatch-go/internal/db/repository"
	"birdwatch-go/internal/detection"
	"birdwatch-go/internal/integrations/homeassistant"
	"birdwatch-go/internal/integrations/mqtt"
	"birdwatch-go/internal/integrations/opencv"
	"birdwatch-go/internal/locale"
	"birdwatch-go/internal/logger"
	"birdwatch-go/internal/motion"
	"birdwatch-go/internal/observability/metrics"
	"birdwatch-go/internal/pipeline"
	"birdwatch-go/internal/server"
	"birdwatch-go/internal/server/sse"
	"birdwatch-go/internal/session"
	"birdwatch-go/internal/source"
	"birdwatch-go/internal/species"
	"birdwatch-go/internal/stats"
	"birdwatch-go/internal/status"
	"birdwatch-go/internal/util/timezone"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCloser := logger.Init(cfg.Log)
	defer logCloser.Close()

	timezone.Initialize(cfg.Server.Timezone)

	log.Info("Initializing database...")
	database, err := db.Initialize(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close(database)

	store, err := capture.NewStore(cfg.Server.CaptureDir, repository.NewSQLiteRepository(database), cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to open capture store: %w", err)
	}
	if n, err := store.SweepOrphans(); err != nil {
		log.WithError(err).Warn("Startup sweep of orphan capture files failed")
	} else if n > 0 {
		log.Infof("Removed %d orphan capture file(s) left by an earlier run", n)
	}

	agg := stats.NewAggregator(time.Now())
	sess := session.New(agg, store, session.Options{
		Thresholds:     status.FromConfig(cfg.Status),
		RecentCaptures: cfg.Status.RecentCaptures,
		ImageBaseURL:   cfg.Server.CaptureURL,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return err
	}

	backend, closeBackend := newBackend(cfg.Detection)
	defer closeBackend()
	engine := detection.NewEngine(backend, cfg.Detection.MinConfidence, cfg.Detection.Timeout)

	var refiner *detection.Refiner
	if cfg.Detection.SpeciesEnabled {
		refiner = detection.NewRefiner(species.NewRuleClassifier(), cfg.Detection.SpeciesTimeout)
	}

	frameProcessor := processor.NewFrameProcessor(engine, refiner, sess, pipelineMetrics, cfg.Stats.DetectionLogInterval)
	pool := processor.NewWorkerPool(frameProcessor, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, pipelineMetrics)

	supervisor := pipeline.NewSupervisor(newSource(cfg.Camera), motion.NewDetector(cfg.Motion), sess, pool, cfg.Pipeline, pipelineMetrics)

	bundle, err := locale.NewBundle(cfg.Server.Language)
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	if cfg.Server.Enabled {
		hub := sse.NewHub()
		api := handlers.NewAPIHandler(sess, bundle, hub, pool, cfg.Server.SnapshotCacheTTL)
		frameProcessor.AddListener(api.OnCapture)

		srv := server.New(server.Options{
			Server:     cfg.Server,
			Metrics:    cfg.Metrics,
			API:        api,
			Bundle:     bundle,
			MetricsAPI: pipelineMetrics.Handler(),
		})
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	} else {
		log.Info("HTTP server is disabled in config.")
	}

	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(cfg.MQTT)
		if err := client.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer client.Stop()

			var discovery *homeassistant.DiscoveryManager
			if cfg.MQTT.HomeAssistant.Enabled {
				discovery = homeassistant.NewDiscoveryManager(client, cfg.MQTT.HomeAssistant.DiscoveryPrefix,
					cfg.MQTT.TopicPrefix+"/state", client.AvailabilityTopic(), version)
			}
			publisher := homeassistant.NewPublisher(client, discovery, sess, bundle.Translator(bundle.Default()), cfg.MQTT.TopicPrefix)
			frameProcessor.AddListener(publisher.OnCapture)
			g.Go(func() error {
				return publisher.Run(gctx, cfg.MQTT.PublishInterval)
			})
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	cleanupService := cleanup.NewService(store, cfg.Capture.RetentionDays, cfg.Capture.CleanupInterval, pipelineMetrics)
	g.Go(func() error {
		return cleanupService.Run(gctx)
	})

	g.Go(func() error {
		return reportStats(gctx, agg, cfg.Stats.SummaryInterval)
	})

	err = g.Wait()

	if werr := agg.WriteSummary(os.Stdout, time.Now()); werr != nil {
		log.WithError(werr).Warn("Failed to write session summary")
	}
	return err
}

// reportStats logs the live line every interval and writes the full summary
// to stdout on SIGUSR1
func reportStats(ctx context.Context, agg *stats.Aggregator, interval time.Duration) error {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			log.Info(agg.LiveLine(time.Now()))
		case <-usr1:
			if err := agg.WriteSummary(os.Stdout, time.Now()); err != nil {
				log.WithError(err).Warn("Failed to write session summary")
			}
		}
	}
}

// newBackend returns the SSD backend, or a backend that never detects
// anything when detection is disabled or the model cannot be loaded
func newBackend(cfg config.DetectionConfig) (detection.Backend, func()) {
	if !cfg.Enabled {
		log.Info("Object detection is disabled, captures are recorded without detections")
		return detection.NoopBackend{}, func() {}
	}
	detector, err := opencv.NewDetector(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to load detection model, captures are recorded without detections")
		return detection.NoopBackend{}, func() {}
	}
	return detector, func() {
		if err := detector.Close(); err != nil {
			log.WithError(err).Warn("Failed to release detection model")
		}
	}
}

func newSource(cfg config.CameraConfig) source.Source {
	if cfg.ReplayDir != "" {
		return source.NewDirectorySource(cfg.ReplayDir, cfg.ReplayInterval)
	}
	return opencv.NewCameraSource(cfg)
}
