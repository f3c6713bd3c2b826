// Package config loads the server configuration from YAML with
// environment-variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen             = ":8080"
	DefaultStorageBackend     = "file"
	DefaultBaseDir            = "./hit_data"
	DefaultSQLitePath         = "./hits.db"
	DefaultQueueCapacity      = 10_000
	DefaultActiveWindowSec    = 120
	DefaultMaxBatchSize       = 100
	DefaultMaxWaveformSamples = 150
	DefaultMaxHitsPerHour     = 600
	DefaultMergeRadiusM       = 15.0
	DefaultMQTTTopic          = "pothole/hits"
)

// Config holds every tunable of the server process.
type Config struct {
	Listen  string        `yaml:"listen"`
	Storage StorageConfig `yaml:"storage"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Cluster ClusterConfig `yaml:"cluster"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// StorageConfig selects and parameterises the persistence backend.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	BaseDir    string `yaml:"base_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// IngestConfig bounds the inbound pipeline. The limit fields are served to
// clients on the config endpoint; devices throttle themselves against them.
type IngestConfig struct {
	QueueCapacity      int `yaml:"queue_capacity"`
	ActiveWindowSec    int `yaml:"active_window_sec"`
	MaxBatchSize       int `yaml:"max_batch_size"`
	MaxWaveformSamples int `yaml:"max_waveform_samples"`
	MaxHitsPerHour     int `yaml:"max_hits_per_hour"`
}

// ClusterConfig parameterises the pothole clustering engine.
type ClusterConfig struct {
	MergeRadiusM float64 `yaml:"merge_radius_m"`
}

// MQTTConfig enables the optional broker bridge for devices that report
// over MQTT instead of HTTP.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Load reads and parses a YAML config file, then applies defaults and
// POTHOLE_* environment overrides. An empty path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be file or sqlite, got %q", cfg.Storage.Backend)
	}
	if cfg.Ingest.QueueCapacity <= 0 {
		return fmt.Errorf("ingest.queue_capacity must be positive, got %d", cfg.Ingest.QueueCapacity)
	}
	if cfg.Cluster.MergeRadiusM <= 0 {
		return fmt.Errorf("cluster.merge_radius_m must be positive, got %v", cfg.Cluster.MergeRadiusM)
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is set")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = DefaultBaseDir
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultSQLitePath
	}
	if cfg.Ingest.QueueCapacity == 0 {
		cfg.Ingest.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Ingest.ActiveWindowSec == 0 {
		cfg.Ingest.ActiveWindowSec = DefaultActiveWindowSec
	}
	if cfg.Ingest.MaxBatchSize == 0 {
		cfg.Ingest.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Ingest.MaxWaveformSamples == 0 {
		cfg.Ingest.MaxWaveformSamples = DefaultMaxWaveformSamples
	}
	if cfg.Ingest.MaxHitsPerHour == 0 {
		cfg.Ingest.MaxHitsPerHour = DefaultMaxHitsPerHour
	}
	if cfg.Cluster.MergeRadiusM == 0 {
		cfg.Cluster.MergeRadiusM = DefaultMergeRadiusM
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = DefaultMQTTTopic
	}
}

// applyEnv overrides deployment settings from the environment so the same
// config file can serve multiple hosts.
func applyEnv(cfg *Config) {
	if v := os.Getenv("POTHOLE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("POTHOLE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("POTHOLE_STORAGE_BASE_DIR"); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := os.Getenv("POTHOLE_STORAGE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POTHOLE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.QueueCapacity = n
		}
	}
	if v := os.Getenv("POTHOLE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
}
