package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilchain/anvilchain/pkg/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Batch.MaxBatchAge)
	assert.True(t, cfg.Anchor.Policy.AnchorAlarms)
	assert.False(t, cfg.Anchor.Policy.AnchorTelemetry)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "local", cfg.Storage.Type)
}

func TestResolveDerivesPathsFromDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/anvilchain"
	cfg.Resolve()

	assert.Equal(t, filepath.Join("/var/lib/anvilchain", "journal"), cfg.Journal.Dir)
	assert.Equal(t, filepath.Join("/var/lib/anvilchain", "archive"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join("/var/lib/anvilchain", "batches.db"), cfg.BatchDBPath())

	// Explicit paths are left alone.
	cfg = DefaultConfig()
	cfg.Journal.Dir = "/mnt/journal"
	cfg.Resolve()
	assert.Equal(t, "/mnt/journal", cfg.Journal.Dir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty site id", func(c *Config) { c.SiteID = "" }},
		{"zero max batch size", func(c *Config) { c.Batch.MaxBatchSize = 0 }},
		{"min above max", func(c *Config) { c.Batch.MinBatchSize = c.Batch.MaxBatchSize + 1 }},
		{"unknown storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"mqtt without broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = ""
		}},
		{"alarm without tag", func(c *Config) {
			c.Alarms = []AlarmRule{{Type: "HIHI", Setpoint: 90}}
		}},
		{"alarm with bad type", func(c *Config) {
			c.Alarms = []AlarmRule{{TagName: "t", Type: "MEDIUM", Setpoint: 90}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidAlarmRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	cfg.Alarms = []AlarmRule{
		{TagName: "boiler.temp", Type: "HIHI", Setpoint: 90},
		{TagName: "boiler.temp", Type: "HIGH", Setpoint: 80, Deadband: 2},
		{TagName: "tank.level", Type: "LOW", Setpoint: 20},
		{TagName: "tank.level", Type: "LOLO", Setpoint: 10, Priority: "CRITICAL"},
	}
	assert.NoError(t, cfg.Validate())

	def := cfg.Alarms[1].Definition()
	assert.Equal(t, types.AlarmHigh, def.Type)
	assert.Equal(t, 80.0, def.Setpoint)
	assert.Equal(t, 2.0, def.Deadband)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
site_id: plant-07
data_dir: /data/anvilchain
batch:
  max_batch_size: 50
  min_batch_size: 5
  max_batch_age: 2m
anchor:
  gateway_url: https://ledger.example.com
  policy:
    anchor_alarms: true
    anchor_telemetry: true
alarms:
  - tag_name: boiler.temp
    type: HIHI
    setpoint: 90
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "plant-07", cfg.SiteID)
	assert.Equal(t, 50, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Batch.MaxBatchAge)
	assert.Equal(t, "https://ledger.example.com", cfg.Anchor.GatewayURL)
	assert.True(t, cfg.Anchor.Policy.AnchorTelemetry)
	require.Len(t, cfg.Alarms, 1)
	assert.Equal(t, "boiler.temp", cfg.Alarms[0].TagName)

	// Unset fields keep their defaults.
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"site_id": "plant-08",
		"storage": {"type": "s3", "s3": {"bucket": "audit-archive", "region": "eu-west-1"}}
	}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "plant-08", cfg.SiteID)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "audit-archive", cfg.Storage.S3.Bucket)
}

func TestLoadFromFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("site_id = 'x'"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ANVILCHAIN_SITE_ID", "plant-09")
	t.Setenv("ANVILCHAIN_SIGNING_SEED", "seed-value")
	t.Setenv("ANVILCHAIN_BATCH_MAX_SIZE", "25")
	t.Setenv("ANVILCHAIN_BATCH_MAX_AGE", "90s")
	t.Setenv("ANVILCHAIN_ANCHOR_GATEWAY_URL", "https://ledger.example.com")
	t.Setenv("ANVILCHAIN_MQTT_ENABLED", "true")
	t.Setenv("ANVILCHAIN_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("ANVILCHAIN_STORAGE_TYPE", "s3")
	t.Setenv("ANVILCHAIN_S3_BUCKET", "audit-archive")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "plant-09", cfg.SiteID)
	assert.Equal(t, "seed-value", cfg.SigningSeed)
	assert.Equal(t, 25, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 90*time.Second, cfg.Batch.MaxBatchAge)
	assert.Equal(t, "https://ledger.example.com", cfg.Anchor.GatewayURL)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "audit-archive", cfg.Storage.S3.Bucket)
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, cfg.Journal.Dir, cfg.Storage.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestAccumulatorConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch.MaxBatchSize = 42
	cfg.Batch.MinBatchSize = 7
	cfg.Batch.MaxBatchAge = time.Minute

	acc := cfg.AccumulatorConfig()
	assert.Equal(t, 42, acc.MaxBatchSize)
	assert.Equal(t, 7, acc.MinBatchSize)
	assert.Equal(t, time.Minute, acc.MaxBatchAge)
}
