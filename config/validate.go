package config

import (
	"strconv"

	"birdwatch-go/internal/errors"
)

// Validate checks the configuration before anything is started.
// All problems are reported together as one configuration error.
func (c *Config) Validate() error {
	var v errors.ValidationErrors

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		v.Add("server.port must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	if c.Server.CaptureDir == "" {
		v.Add("server.capture_dir is required")
	}
	if c.Server.SnapshotCacheTTL < 0 {
		v.Add("server.snapshot_cache_ttl must not be negative (got %s)", c.Server.SnapshotCacheTTL)
	}
	if c.DB.File == "" {
		v.Add("db.file is required")
	}

	if c.Camera.ReplayDir == "" && c.Camera.Device == "" {
		v.Add("camera.device or camera.replay_dir is required")
	}
	if c.Camera.ReplayDir != "" && c.Camera.ReplayInterval < 0 {
		v.Add("camera.replay_interval must not be negative (got %s)", c.Camera.ReplayInterval)
	}

	if c.Motion.PixelThreshold < 0 || c.Motion.PixelThreshold > 255 {
		v.Add("motion.pixel_threshold must be between 0 and 255 (got %d)", c.Motion.PixelThreshold)
	}
	if c.Motion.MinChangedRatio <= 0 || c.Motion.MinChangedRatio > 1 {
		v.Add("motion.min_changed_ratio must be in (0, 1] (got %s)", formatFloat(c.Motion.MinChangedRatio))
	}
	if c.Motion.Cooldown < 0 {
		v.Add("motion.cooldown must not be negative (got %s)", c.Motion.Cooldown)
	}

	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		v.Add("detection.min_confidence must be between 0 and 1 (got %s)", formatFloat(c.Detection.MinConfidence))
	}
	if c.Detection.Timeout <= 0 {
		v.Add("detection.timeout must be positive (got %s)", c.Detection.Timeout)
	}
	if c.Detection.SpeciesEnabled && c.Detection.SpeciesTimeout <= 0 {
		v.Add("detection.species_timeout must be positive (got %s)", c.Detection.SpeciesTimeout)
	}

	if c.Pipeline.Workers <= 0 {
		v.Add("pipeline.workers must be positive (got %d)", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize <= 0 {
		v.Add("pipeline.queue_size must be positive (got %d)", c.Pipeline.QueueSize)
	}
	if c.Pipeline.ShutdownTimeout <= 0 {
		v.Add("pipeline.shutdown_timeout must be positive (got %s)", c.Pipeline.ShutdownTimeout)
	}
	if c.Pipeline.RetryDelay <= 0 {
		v.Add("pipeline.retry_delay must be positive (got %s)", c.Pipeline.RetryDelay)
	}
	if c.Pipeline.MaxRetryDelay < c.Pipeline.RetryDelay {
		v.Add("pipeline.max_retry_delay must not be below pipeline.retry_delay")
	}
	if c.Pipeline.MaxRetries < 0 {
		v.Add("pipeline.max_retries must not be negative (got %d)", c.Pipeline.MaxRetries)
	}

	if c.Capture.MaxCaptures <= 0 {
		v.Add("capture.max_captures must be positive (got %d)", c.Capture.MaxCaptures)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		v.Add("capture.jpeg_quality must be between 1 and 100 (got %d)", c.Capture.JPEGQuality)
	}
	if c.Capture.RetentionDays < 0 {
		v.Add("capture.retention_days must not be negative (got %d)", c.Capture.RetentionDays)
	}
	if c.Capture.RetentionDays > 0 && c.Capture.CleanupInterval <= 0 {
		v.Add("capture.cleanup_interval must be positive when retention is enabled")
	}

	if c.Status.Active <= 0 {
		v.Add("status.active must be positive (got %s)", c.Status.Active)
	}
	if c.Status.Recent <= c.Status.Active {
		v.Add("status.recent (%s) must be greater than status.active (%s)", c.Status.Recent, c.Status.Active)
	}
	if c.Status.RecentCaptures < 0 {
		v.Add("status.recent_captures must not be negative (got %d)", c.Status.RecentCaptures)
	}

	if c.Stats.SummaryInterval < 0 {
		v.Add("stats.summary_interval must not be negative (got %s)", c.Stats.SummaryInterval)
	}
	if c.Stats.DetectionLogInterval < 0 {
		v.Add("stats.detection_log_interval must not be negative (got %s)", c.Stats.DetectionLogInterval)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			v.Add("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			v.Add("mqtt.topic_prefix is required when mqtt is enabled")
		}
		if c.MQTT.PublishInterval <= 0 {
			v.Add("mqtt.publish_interval must be positive (got %s)", c.MQTT.PublishInterval)
		}
	}

	return v.Err()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
