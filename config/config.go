package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding the config file
const EnvPrefix = "BIRDWATCH"

// Config is the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Motion    MotionConfig    `mapstructure:"motion"`
	Detection DetectionConfig `mapstructure:"detection"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Status    StatusConfig    `mapstructure:"status"`
	Stats     StatsConfig     `mapstructure:"stats"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DataDir          string        `mapstructure:"data_dir"`
	CaptureDir       string        `mapstructure:"capture_dir"`
	CaptureURL       string        `mapstructure:"capture_url"`
	Timezone         string        `mapstructure:"timezone"`
	Language         string        `mapstructure:"language"`
	SessionSecret    string        `mapstructure:"session_secret"`
	SnapshotCacheTTL time.Duration `mapstructure:"snapshot_cache_ttl"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

// LogConfig holds log settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds database settings
type DBConfig struct {
	File string `mapstructure:"file"`
}

// CameraConfig selects the frame source
type CameraConfig struct {
	Device         string        `mapstructure:"device"` // device index or stream URL for gocv
	Width          int           `mapstructure:"width"`
	Height         int           `mapstructure:"height"`
	FPS            float64       `mapstructure:"fps"`
	ReplayDir      string        `mapstructure:"replay_dir"` // replay images instead of a camera
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

// MotionConfig holds motion detector settings
type MotionConfig struct {
	PixelThreshold  int           `mapstructure:"pixel_threshold"`   // luma delta counted as change (0..255)
	MinChangedRatio float64       `mapstructure:"min_changed_ratio"` // changed pixel fraction that triggers
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

// DetectionConfig holds object detection and species settings
type DetectionConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MinConfidence  float64       `mapstructure:"min_confidence"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ModelPath      string        `mapstructure:"model_path"`
	ConfigPath     string        `mapstructure:"config_path"`
	Backend        string        `mapstructure:"backend"` // "default", "cuda", "opencl"
	Target         string        `mapstructure:"target"`  // "cpu", "cuda", "opencl"
	SpeciesEnabled bool          `mapstructure:"species_enabled"`
	SpeciesTimeout time.Duration `mapstructure:"species_timeout"`
}

// PipelineConfig holds worker and backoff settings
type PipelineConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay"`
	MaxRetries      int           `mapstructure:"max_retries"` // 0 = retry forever
}

// CaptureConfig holds capture store settings
type CaptureConfig struct {
	MaxCaptures     int           `mapstructure:"max_captures"`
	JPEGQuality     int           `mapstructure:"jpeg_quality"`
	RetentionDays   int           `mapstructure:"retention_days"` // 0 disables age based cleanup
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// StatusConfig holds the liveness thresholds of the status view
type StatusConfig struct {
	Active         time.Duration `mapstructure:"active"`
	Recent         time.Duration `mapstructure:"recent"`
	RecentCaptures int           `mapstructure:"recent_captures"`
}

// StatsConfig holds reporting intervals
type StatsConfig struct {
	SummaryInterval      time.Duration `mapstructure:"summary_interval"`
	DetectionLogInterval time.Duration `mapstructure:"detection_log_interval"`
}

// MQTTConfig holds MQTT client settings
type MQTTConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	Broker          string              `mapstructure:"broker"`
	Port            int                 `mapstructure:"port"`
	Username        string              `mapstructure:"username"`
	Password        string              `mapstructure:"password"`
	ClientID        string              `mapstructure:"client_id"`
	TopicPrefix     string              `mapstructure:"topic_prefix"`
	PublishInterval time.Duration       `mapstructure:"publish_interval"`
	HomeAssistant   HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig holds Home Assistant discovery settings
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads the configuration from defaults, an optional file and the environment,
// validates it and creates the required directories.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value of every key
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.capture_dir", "/data/captures")
	v.SetDefault("server.capture_url", "/captures")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.language", "en")
	v.SetDefault("server.session_secret", "birdwatch")
	v.SetDefault("server.snapshot_cache_ttl", time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/birdwatch.log")

	v.SetDefault("db.file", "/data/birdwatch.db")

	v.SetDefault("camera.device", "0")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 10.0)
	v.SetDefault("camera.replay_dir", "")
	v.SetDefault("camera.replay_interval", 500*time.Millisecond)

	v.SetDefault("motion.pixel_threshold", 25)
	v.SetDefault("motion.min_changed_ratio", 0.015)
	v.SetDefault("motion.cooldown", 2*time.Second)

	v.SetDefault("detection.enabled", true)
	v.SetDefault("detection.min_confidence", 0.3)
	v.SetDefault("detection.timeout", 5*time.Second)
	v.SetDefault("detection.model_path", "/models/frozen_inference_graph.pb")
	v.SetDefault("detection.config_path", "/models/ssd_mobilenet_v2_coco.pbtxt")
	v.SetDefault("detection.backend", "default")
	v.SetDefault("detection.target", "cpu")
	v.SetDefault("detection.species_enabled", true)
	v.SetDefault("detection.species_timeout", time.Second)

	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.queue_size", 8)
	v.SetDefault("pipeline.shutdown_timeout", 15*time.Second)
	v.SetDefault("pipeline.retry_delay", time.Second)
	v.SetDefault("pipeline.max_retry_delay", 30*time.Second)
	v.SetDefault("pipeline.max_retries", 0)

	v.SetDefault("capture.max_captures", 500)
	v.SetDefault("capture.jpeg_quality", 90)
	v.SetDefault("capture.retention_days", 0)
	v.SetDefault("capture.cleanup_interval", time.Hour)

	v.SetDefault("status.active", time.Hour)
	v.SetDefault("status.recent", 24*time.Hour)
	v.SetDefault("status.recent_captures", 12)

	v.SetDefault("stats.summary_interval", 5*time.Minute)
	v.SetDefault("stats.detection_log_interval", 30*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "birdwatch-go")
	v.SetDefault("mqtt.topic_prefix", "birdwatch")
	v.SetDefault("mqtt.publish_interval", 30*time.Second)
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// ensureDirectories creates the directories the configuration points to
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Server.CaptureDir, 0755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
