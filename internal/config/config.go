// Package config provides unified configuration for the Anvilchain service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anvilchain/anvilchain/internal/accumulator"
	"github.com/anvilchain/anvilchain/internal/anchor"
	"github.com/anvilchain/anvilchain/internal/ingest"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// Config holds the unified configuration for the Anvilchain service.
type Config struct {
	// SiteID identifies the industrial site this instance audits
	SiteID string `json:"site_id" yaml:"site_id"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// SigningSeed derives the HMAC signing key. Required in production;
	// an empty seed generates an ephemeral key at startup.
	SigningSeed string `json:"signing_seed" yaml:"signing_seed"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Batch readiness configuration
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// Anchoring policy and ledger gateway configuration
	Anchor AnchorConfig `json:"anchor" yaml:"anchor"`

	// Journal configuration
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// MQTT tag-reading ingest configuration
	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt"`

	// Archive storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Alarms are the threshold definitions registered at startup
	Alarms []AlarmRule `json:"alarms" yaml:"alarms"`
}

// AlarmRule is one configured alarm threshold.
type AlarmRule struct {
	TagName  string  `json:"tag_name" yaml:"tag_name"`
	Type     string  `json:"type" yaml:"type"`
	Priority string  `json:"priority,omitempty" yaml:"priority,omitempty"`
	Setpoint float64 `json:"setpoint" yaml:"setpoint"`
	Deadband float64 `json:"deadband,omitempty" yaml:"deadband,omitempty"`
	Message  string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// Definition converts the rule to the runtime alarm definition.
func (r AlarmRule) Definition() types.AlarmDefinition {
	return types.AlarmDefinition{
		TagName:  r.TagName,
		Type:     types.AlarmType(r.Type),
		Priority: types.AlarmPriority(r.Priority),
		Setpoint: r.Setpoint,
		Deadband: r.Deadband,
		Message:  r.Message,
	}
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP API address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// BatchConfig holds batch readiness configuration.
type BatchConfig struct {
	// MaxBatchSize flushes a batch when the pending count reaches it
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`

	// MinBatchSize is the advisory floor; age-forced flushes may go below it
	MinBatchSize int `json:"min_batch_size" yaml:"min_batch_size"`

	// MaxBatchAge bounds how long the oldest pending event waits
	MaxBatchAge time.Duration `json:"max_batch_age" yaml:"max_batch_age"`
}

// AnchorConfig holds anchoring policy and ledger gateway configuration.
type AnchorConfig struct {
	// Policy selects which event types are anchored
	Policy anchor.Policy `json:"policy" yaml:"policy"`

	// GatewayURL is the ledger gateway base URL; empty disables submission
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`

	// APIKey authenticates against the ledger gateway
	APIKey string `json:"api_key" yaml:"api_key"`

	// SubmitTimeout bounds one submission round trip
	SubmitTimeout time.Duration `json:"submit_timeout" yaml:"submit_timeout"`

	// RetryInterval is how often FAILED batches are re-submitted; zero
	// disables automatic retry
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`
}

// JournalConfig holds event journal configuration.
type JournalConfig struct {
	// Dir is the journal directory
	Dir string `json:"dir" yaml:"dir"`

	// MaxSegmentSize is the segment rotation threshold in bytes
	MaxSegmentSize int64 `json:"max_segment_size" yaml:"max_segment_size"`
}

// MQTTConfig holds the tag-reading subscription configuration.
type MQTTConfig struct {
	// Enabled controls whether the MQTT source runs
	Enabled bool `json:"enabled" yaml:"enabled"`

	ingest.MQTTConfig `json:",inline" yaml:",inline"`
}

// StorageConfig holds manifest archive configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 archive configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		SiteID:  "site-local",
		DataDir: "./data/anvilchain",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Batch: BatchConfig{
			MaxBatchSize: 100,
			MinBatchSize: 1,
			MaxBatchAge:  5 * time.Minute,
		},
		Anchor: AnchorConfig{
			Policy:        anchor.DefaultPolicy(),
			SubmitTimeout: 30 * time.Second,
			RetryInterval: 2 * time.Minute,
		},
		Journal: JournalConfig{
			Dir:            "",
			MaxSegmentSize: 64 * 1024 * 1024,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			MQTTConfig: ingest.MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "anvilchain",
				Topic:    "site/+/tags/#",
				QoS:      1,
			},
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/anvilchain"
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.DataDir, "journal")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
}

// BatchDBPath returns the path to the batch store database.
func (c *Config) BatchDBPath() string {
	return filepath.Join(c.DataDir, "batches.db")
}

// AccumulatorConfig converts the batch section to the accumulator's config.
func (c *Config) AccumulatorConfig() accumulator.Config {
	return accumulator.Config{
		MaxBatchSize: c.Batch.MaxBatchSize,
		MinBatchSize: c.Batch.MinBatchSize,
		MaxBatchAge:  c.Batch.MaxBatchAge,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SiteID == "" {
		return fmt.Errorf("site_id is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Batch.MaxBatchSize <= 0 {
		return fmt.Errorf("batch.max_batch_size must be positive, got %d", c.Batch.MaxBatchSize)
	}
	if c.Batch.MinBatchSize < 0 || c.Batch.MinBatchSize > c.Batch.MaxBatchSize {
		return fmt.Errorf("batch.min_batch_size must be between 0 and max_batch_size, got %d", c.Batch.MinBatchSize)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	for i, rule := range c.Alarms {
		if rule.TagName == "" {
			return fmt.Errorf("alarms[%d]: tag_name is required", i)
		}
		switch types.AlarmType(rule.Type) {
		case types.AlarmHiHi, types.AlarmHigh, types.AlarmLow, types.AlarmLoLo:
		default:
			return fmt.Errorf("alarms[%d]: invalid type %q (must be HIHI, HIGH, LOW, or LOLO)", i, rule.Type)
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ANVILCHAIN_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ANVILCHAIN_SITE_ID"); v != "" {
		cfg.SiteID = v
	}
	if v := os.Getenv("ANVILCHAIN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ANVILCHAIN_SIGNING_SEED"); v != "" {
		cfg.SigningSeed = v
	}

	// HTTP configuration
	if v := os.Getenv("ANVILCHAIN_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Batch configuration
	if v := os.Getenv("ANVILCHAIN_BATCH_MAX_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Batch.MaxBatchSize)
	}
	if v := os.Getenv("ANVILCHAIN_BATCH_MIN_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Batch.MinBatchSize)
	}
	if v := os.Getenv("ANVILCHAIN_BATCH_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Batch.MaxBatchAge = d
		}
	}

	// Anchor configuration
	if v := os.Getenv("ANVILCHAIN_ANCHOR_GATEWAY_URL"); v != "" {
		cfg.Anchor.GatewayURL = v
	}
	if v := os.Getenv("ANVILCHAIN_ANCHOR_API_KEY"); v != "" {
		cfg.Anchor.APIKey = v
	}
	if v := os.Getenv("ANVILCHAIN_ANCHOR_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Anchor.RetryInterval = d
		}
	}

	// MQTT configuration
	if v := os.Getenv("ANVILCHAIN_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ANVILCHAIN_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("ANVILCHAIN_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}

	// Storage configuration
	if v := os.Getenv("ANVILCHAIN_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("ANVILCHAIN_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("ANVILCHAIN_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("ANVILCHAIN_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("ANVILCHAIN_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Journal.Dir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
