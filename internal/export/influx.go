package export

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

type Influx struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

func NewInflux(cfg config.Influx) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB exporter initialized")
	return &Influx{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}
}

func (i *Influx) Name() string { return "influxdb" }

func (i *Influx) Export(ctx context.Context, r model.SensorReading) error {
	return i.writeAPI.WritePoint(ctx, Point(i.measurement, r))
}

func (i *Influx) Close() { i.client.Close() }

// Point maps a reading onto one line-protocol point.
func Point(measurement string, r model.SensorReading) *write.Point {
	tags := map[string]string{
		"pump":      boolTag(r.PumpStatus),
		"emergency": boolTag(r.EmergencyMode),
	}
	fields := map[string]interface{}{
		"temperature":   r.Temperature,
		"humidity":      r.Humidity,
		"light_level":   r.LightLevel,
		"soil_moisture": r.SoilMoisture,
		"water_level":   r.WaterLevel,
		"reading_id":    r.ID,
	}
	return influxdb2.NewPoint(measurement, tags, fields, r.Timestamp)
}

func boolTag(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
