package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/env"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

var dogstatsd *statsd.Client

func InitMetrics() {
	if !env.Cfg.Datadog.Enabled {
		log.Debug().Msg("Datadog metrics disabled")
		return
	}

	var err error
	dogstatsd, err = statsd.New(env.Cfg.Datadog.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	dogstatsd.Namespace = env.Cfg.Datadog.Namespace
	dogstatsd.Tags = env.Cfg.Datadog.Tags

	log.Info().
		Str("addr", env.Cfg.Datadog.AgentAddr).
		Str("namespace", env.Cfg.Datadog.Namespace).
		Strs("tags", env.Cfg.Datadog.Tags).
		Msg("Datadog metrics initialized")
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Gauge(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

// ReadingGauges emits one gauge per sensor value.
func ReadingGauges(r model.SensorReading, source string) {
	tag := "source:" + source
	Gauge("sensor.temperature", r.Temperature, tag)
	Gauge("sensor.humidity", r.Humidity, tag)
	Gauge("sensor.light_level", r.LightLevel, tag)
	Gauge("sensor.soil_moisture", r.SoilMoisture, tag)
	Gauge("sensor.water_level", r.WaterLevel, tag)
	Gauge("pump.on", boolGauge(r.PumpStatus), tag)
}

func ConnectionGauge(connected bool) {
	Gauge("arduino.connected", boolGauge(connected))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
