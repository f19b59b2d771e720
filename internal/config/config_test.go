package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 5000, cfg.HTTPPort)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, 30*time.Second, cfg.SimulationInterval())
	assert.Equal(t, time.Duration(0), cfg.AlertDedupWindow())
	assert.Equal(t, 10*time.Minute, cfg.WeatherCacheTTL())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.CancelAutoOffOnScheduleChange)
	assert.False(t, cfg.Influx.Enabled())
	assert.False(t, cfg.MQTT.Enabled())
	assert.Equal(t, ":5000", cfg.Addr())
	assert.Equal(t, time.Hour, cfg.MaxIrrigation())

	cfg.validate() // should not panic
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"http_port": 8080,
		"serial_port": "/dev/ttyACM0",
		"alert_dedup_window_seconds": 300,
		"influx": {"url": "http://influx:8086", "org": "farm", "bucket": "greenhouse"}
	}`), 0644))

	var cfg Config
	require.NoError(t, cfg.loadFile(path))

	env := map[string]string{
		"GREENHOUSE_SERIAL_PORT": "/dev/ttyUSB1",
		"GREENHOUSE_BAUD_RATE":   "115200",
		"MQTT_BROKER":            "tcp://broker:1883",
		"NTFY_TOPIC":             "greenhouse-alerts",
	}
	cfg.applyEnv(func(k string) string { return env[k] })
	cfg.applyDefaults()
	cfg.validate()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "/dev/ttyUSB1", cfg.SerialPort)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, 5*time.Minute, cfg.AlertDedupWindow())
	assert.True(t, cfg.Influx.Enabled())
	assert.Equal(t, "greenhouse_reading", cfg.Influx.Measurement)
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "greenhouse/readings", cfg.MQTT.Topic)
	assert.Equal(t, "greenhouse-alerts", cfg.NtfyTopic)
}

func TestMaxIrrigationDisabled(t *testing.T) {
	cfg := Config{MaxIrrigationMinutes: -1}
	cfg.applyDefaults()
	assert.Equal(t, time.Duration(0), cfg.MaxIrrigation())
}

func TestLoadFileRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http_port": "eighty"}`), 0644))

	var cfg Config
	assert.Error(t, cfg.loadFile(path))
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, loadEnvFile(""))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GREENHOUSE_TEST_ONLY_VALUE=hello\n"), 0644))
	t.Setenv("GREENHOUSE_TEST_ONLY_VALUE", "")
	os.Unsetenv("GREENHOUSE_TEST_ONLY_VALUE")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "hello", os.Getenv("GREENHOUSE_TEST_ONLY_VALUE"))
}

func TestValidatePanics(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud", func(c *Config) { c.BaudRate = 0 }},
		{"port too high", func(c *Config) { c.HTTPPort = 70000 }},
		{"negative reconnect", func(c *Config) { c.ReconnectDelaySeconds = -1 }},
		{"negative dedup", func(c *Config) { c.AlertDedupWindowSeconds = -5 }},
		{"influx without bucket", func(c *Config) { c.Influx.URL = "http://influx:8086"; c.Influx.Org = "farm" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			defer func() {
				if r := recover(); r == nil {
					t.Fatal("expected panic for invalid config, but got none")
				}
			}()
			cfg.validate()
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLogLevel("debug").String())
	assert.Equal(t, "warn", parseLogLevel("warn").String())
	assert.Equal(t, "error", parseLogLevel("error").String())
	assert.Equal(t, "info", parseLogLevel("verbose").String())
}
