package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Influx struct {
	URL         string `json:"url"`
	Token       string `json:"token"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement"`
}

func (i Influx) Enabled() bool { return i.URL != "" }

type MQTT struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
}

func (m MQTT) Enabled() bool { return m.Broker != "" }

type Datadog struct {
	AgentAddr string   `json:"agent_addr"`
	Namespace string   `json:"namespace"`
	Tags      []string `json:"tags"`
	Enabled   bool     `json:"enabled"`
}

type Config struct {
	ConfigFile string
	DBPath     string
	EnvFile    string
	LogLevel   zerolog.Level
	LogFile    string

	HTTPPort   int    `json:"http_port"`
	SerialPort string `json:"serial_port"`
	BaudRate   int    `json:"baud_rate"`

	ReconnectDelaySeconds     int `json:"reconnect_delay_seconds"`
	SimulationIntervalSeconds int `json:"simulation_interval_seconds"`
	AlertDedupWindowSeconds   int `json:"alert_dedup_window_seconds"`

	CancelAutoOffOnScheduleChange bool `json:"cancel_auto_off_on_schedule_change"`

	// MaxIrrigationMinutes caps one continuous irrigation run; negative disables the cap.
	MaxIrrigationMinutes int `json:"max_irrigation_minutes"`

	AllowedOrigins []string `json:"allowed_origins"`

	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	WeatherCacheMinutes int     `json:"weather_cache_minutes"`

	Influx    Influx  `json:"influx"`
	MQTT      MQTT    `json:"mqtt"`
	NtfyTopic string  `json:"ntfy_topic"`
	Datadog   Datadog `json:"datadog"`
}

func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

func (c Config) SimulationInterval() time.Duration {
	return time.Duration(c.SimulationIntervalSeconds) * time.Second
}

func (c Config) AlertDedupWindow() time.Duration {
	return time.Duration(c.AlertDedupWindowSeconds) * time.Second
}

func (c Config) WeatherCacheTTL() time.Duration {
	return time.Duration(c.WeatherCacheMinutes) * time.Minute
}

// MaxIrrigation returns zero when the cap is disabled.
func (c Config) MaxIrrigation() time.Duration {
	if c.MaxIrrigationMinutes < 0 {
		return 0
	}
	return time.Duration(c.MaxIrrigationMinutes) * time.Minute
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Load parses flags, the optional env file and the optional JSON config file.
// Invalid configuration panics.
func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "", "Path to JSON config file (optional)")
	flag.StringVar(&cfg.DBPath, "db", "data/greenhouse.db", "Path to sqlite database")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Append logs to this file as well as stderr")
	flag.StringVar(&cfg.EnvFile, "env-file", ".env", "Env file to load before reading environment overrides")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	if err := loadEnvFile(cfg.EnvFile); err != nil {
		panic("Failed to load env file: " + err.Error())
	}

	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			panic("Failed to load config file: " + err.Error())
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func (cfg *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) applyEnv(getenv func(string) string) {
	if v := getenv("GREENHOUSE_SERIAL_PORT"); v != "" {
		cfg.SerialPort = v
	}
	if v := getenv("GREENHOUSE_BAUD_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BaudRate = n
		}
	}
	if v := getenv("GREENHOUSE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
		}
	}
	if v := getenv("INFLUX_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := getenv("INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := getenv("NTFY_TOPIC"); v != "" {
		cfg.NtfyTopic = v
	}
	if v := getenv("DD_AGENT_ADDR"); v != "" {
		cfg.Datadog.AgentAddr = v
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 5000
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReconnectDelaySeconds == 0 {
		cfg.ReconnectDelaySeconds = 5
	}
	if cfg.SimulationIntervalSeconds == 0 {
		cfg.SimulationIntervalSeconds = 30
	}
	if cfg.WeatherCacheMinutes == 0 {
		cfg.WeatherCacheMinutes = 10
	}
	if cfg.MaxIrrigationMinutes == 0 {
		cfg.MaxIrrigationMinutes = 60
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Influx.Measurement == "" {
		cfg.Influx.Measurement = "greenhouse_reading"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "greenhouse-controller"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "greenhouse/readings"
	}
	if cfg.Datadog.AgentAddr == "" {
		cfg.Datadog.AgentAddr = "127.0.0.1:8125"
	}
	if cfg.Datadog.Namespace == "" {
		cfg.Datadog.Namespace = "greenhouse."
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	var problems []string

	if cfg.BaudRate <= 0 {
		problems = append(problems, fmt.Sprintf("baud_rate must be positive, got %d", cfg.BaudRate))
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("http_port out of range: %d", cfg.HTTPPort))
	}
	if cfg.ReconnectDelaySeconds < 0 {
		problems = append(problems, "reconnect_delay_seconds must not be negative")
	}
	if cfg.SimulationIntervalSeconds < 0 {
		problems = append(problems, "simulation_interval_seconds must not be negative")
	}
	if cfg.AlertDedupWindowSeconds < 0 {
		problems = append(problems, "alert_dedup_window_seconds must not be negative")
	}
	if cfg.WeatherCacheMinutes < 0 {
		problems = append(problems, "weather_cache_minutes must not be negative")
	}
	if cfg.Influx.Enabled() && (cfg.Influx.Org == "" || cfg.Influx.Bucket == "") {
		problems = append(problems, "influx.org and influx.bucket are required when influx.url is set")
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}
