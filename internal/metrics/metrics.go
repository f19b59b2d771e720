package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

var (
	registry = prometheus.NewRegistry()

	ReadingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "readings_total",
		Help:      "Sensor readings reconciled, by source.",
	}, []string{"source"})

	DecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "decode_failures_total",
		Help:      "Controller lines that could not be decoded.",
	})

	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "alerts_total",
		Help:      "Alerts raised, by type.",
	}, []string{"type"})

	AlertsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "alerts_suppressed_total",
		Help:      "Alerts dropped by the dedup window.",
	})

	ExportFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "export_failures_total",
		Help:      "Telemetry export failures, by exporter.",
	}, []string{"exporter"})

	SensorValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "greenhouse",
		Name:      "sensor_value",
		Help:      "Latest reconciled sensor value.",
	}, []string{"sensor"})

	ArduinoConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "greenhouse",
		Name:      "arduino_connected",
		Help:      "1 while the serial session is connected.",
	})

	WebsocketClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "greenhouse",
		Name:      "websocket_clients",
		Help:      "Open realtime connections.",
	}, func() float64 { return float64(clientCount()) })
)

var clientCount = func() int { return 0 }

func init() {
	registry.MustRegister(
		ReadingsTotal,
		DecodeFailures,
		AlertsTotal,
		AlertsSuppressed,
		ExportFailures,
		SensorValue,
		ArduinoConnected,
		WebsocketClients,
		collectors.NewGoCollector(),
	)
}

// TrackClients wires the websocket gauge to a live counter.
func TrackClients(fn func() int) {
	clientCount = fn
}

func ObserveReading(r model.SensorReading, source string) {
	ReadingsTotal.WithLabelValues(source).Inc()
	SensorValue.WithLabelValues("temperature").Set(r.Temperature)
	SensorValue.WithLabelValues("humidity").Set(r.Humidity)
	SensorValue.WithLabelValues("light_level").Set(r.LightLevel)
	SensorValue.WithLabelValues("soil_moisture").Set(r.SoilMoisture)
	SensorValue.WithLabelValues("water_level").Set(r.WaterLevel)
}

func SetConnected(connected bool) {
	if connected {
		ArduinoConnected.Set(1)
		return
	}
	ArduinoConnected.Set(0)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
