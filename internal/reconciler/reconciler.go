package reconciler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/controls"
	"github.com/thatsimonsguy/greenhouse-controller/internal/datadog"
	"github.com/thatsimonsguy/greenhouse-controller/internal/hub"
	"github.com/thatsimonsguy/greenhouse-controller/internal/irrigation"
	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
)

// Reading sources, used as metric labels.
const (
	SourceArduino   = "arduino"
	SourceSimulator = "simulator"
	SourceAPI       = "api"
)

// Controls is the serialized control-state entrypoint.
type Controls interface {
	Get() (model.ControlState, error)
	Update(ctx context.Context, mutate func(model.ControlState) model.ControlState) (controls.Change, error)
}

type Notifier interface {
	Notify(title, message string) error
}

type Exports interface {
	Submit(r model.SensorReading)
}

// Pump is the hardware side of irrigation, present when a controller is attached.
type Pump interface {
	IsConnected() bool
	ControlPump(on bool) error
	EmergencyStop() error
}

type Options struct {
	DedupWindow time.Duration
}

// Reconciler folds every reading, real or simulated, into stored state and
// pushes the result to realtime clients.
type Reconciler struct {
	store    store.Store
	controls Controls
	hub      hub.Broadcaster
	timers   *irrigation.Timers
	dedup    *dedup

	notifier Notifier
	exports  Exports
	pump     Pump
}

// swappable for tests
var (
	randFloat     = rand.Float64
	now           = time.Now
	updateTimeout = 10 * time.Second
)

func New(st store.Store, ctl Controls, b hub.Broadcaster, timers *irrigation.Timers, opts Options) *Reconciler {
	return &Reconciler{
		store:    st,
		controls: ctl,
		hub:      b,
		timers:   timers,
		dedup:    newDedup(opts.DedupWindow),
	}
}

func (rc *Reconciler) SetNotifier(n Notifier) { rc.notifier = n }
func (rc *Reconciler) SetExports(e Exports) { rc.exports = e }
func (rc *Reconciler) SetPump(p Pump) { rc.pump = p }

// HandleDeviceReading is the serial session's data callback.
func (rc *Reconciler) HandleDeviceReading(in *protocol.Reading, raw string) {
	rc.hub.Broadcast(model.EventArduinoData, in)

	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()
	if _, err := rc.Reconcile(ctx, in, SourceArduino); err != nil {
		log.Error().Err(err).Str("line", raw).Msg("Failed to reconcile controller reading")
	}
}

// HandleStatusChange is the serial session's connectivity callback.
func (rc *Reconciler) HandleStatusChange(connected bool) {
	metrics.SetConnected(connected)
	datadog.ConnectionGauge(connected)
	rc.hub.Broadcast(model.EventArduinoStatus, map[string]bool{"connected": connected})
}

// Reconcile persists the reading, syncs the reported pump state into the
// controls, records activity, raises alerts and broadcasts the reading. Any
// store failure aborts the remaining steps.
func (rc *Reconciler) Reconcile(ctx context.Context, in *protocol.Reading, source string) (model.SensorReading, error) {
	saved, err := rc.store.InsertReading(withFallbacks(in))
	if err != nil {
		return saved, fmt.Errorf("persist reading: %w", err)
	}

	pump := saved.PumpStatus
	change, err := rc.controls.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = pump
		return c
	})
	if err != nil {
		return saved, fmt.Errorf("sync pump state: %w", err)
	}
	if change.Changed() {
		rc.hub.Broadcast(model.EventSystemControls, change.After)
	}

	if saved.PumpStatus {
		if err := rc.logActivity("Water pump turned on automatically", fmt.Sprintf("Soil moisture: %.1f%%", saved.SoilMoisture), "fas fa-tint"); err != nil {
			return saved, err
		}
	}

	if err := rc.RaiseAlerts(saved); err != nil {
		return saved, err
	}

	rc.hub.Broadcast(model.EventSensorData, saved)
	rc.observe(saved, source)

	log.Debug().
		Str("source", source).
		Int64("id", saved.ID).
		Float64("soil_moisture", saved.SoilMoisture).
		Bool("pump", saved.PumpStatus).
		Msg("Reading reconciled")
	return saved, nil
}

// Ingest stores a reading posted by a client. The control state is left alone.
func (rc *Reconciler) Ingest(r model.SensorReading) (model.SensorReading, error) {
	saved, err := rc.store.InsertReading(r)
	if err != nil {
		return saved, fmt.Errorf("persist reading: %w", err)
	}
	rc.hub.Broadcast(model.EventSensorData, saved)
	if err := rc.RaiseAlerts(saved); err != nil {
		return saved, err
	}
	rc.observe(saved, SourceAPI)
	return saved, nil
}

// RaiseAlerts stores and broadcasts every alert the reading triggers.
func (rc *Reconciler) RaiseAlerts(r model.SensorReading) error {
	for _, alert := range EvaluateAlerts(r) {
		if !rc.dedup.allow(alert, now()) {
			metrics.AlertsSuppressed.Inc()
			log.Debug().Str("title", alert.Title).Msg("Alert suppressed by dedup window")
			continue
		}
		if _, err := rc.CreateAlert(alert); err != nil {
			return err
		}
	}
	return nil
}

// CreateAlert persists one alert, broadcasts it and pushes error alerts out.
func (rc *Reconciler) CreateAlert(alert model.SystemAlert) (model.SystemAlert, error) {
	saved, err := rc.store.CreateAlert(alert)
	if err != nil {
		return saved, fmt.Errorf("create alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(saved.Type)).Inc()
	rc.hub.Broadcast(model.EventNewAlert, saved)

	if saved.Type == model.AlertError && rc.notifier != nil {
		if err := rc.notifier.Notify(saved.Title, saved.Message); err != nil {
			log.Warn().Err(err).Str("title", saved.Title).Msg("Failed to push alert notification")
		}
	}
	return saved, nil
}

func (rc *Reconciler) logActivity(description, details, icon string) error {
	if _, err := rc.store.LogActivity(model.SystemActivity{Description: description, Details: details, Icon: icon}); err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

func (rc *Reconciler) observe(r model.SensorReading, source string) {
	metrics.ObserveReading(r, source)
	datadog.ReadingGauges(r, source)
	if rc.exports != nil {
		rc.exports.Submit(r)
	}
}

// withFallbacks fills sensors the controller does not carry with plausible values.
func withFallbacks(in *protocol.Reading) model.SensorReading {
	r := model.SensorReading{
		SoilMoisture:  in.SoilMoisture,
		LightLevel:    in.LightLevel,
		WaterLevel:    in.WaterLevel,
		PumpStatus:    in.PumpStatus,
		EmergencyMode: in.EmergencyMode,
		Timestamp:     now(),
	}
	if in.Temperature != nil {
		r.Temperature = *in.Temperature
	} else {
		r.Temperature = 20 + randFloat()*10
	}
	if in.Humidity != nil {
		r.Humidity = *in.Humidity
	} else {
		r.Humidity = 60 + randFloat()*20
	}
	return r
}
