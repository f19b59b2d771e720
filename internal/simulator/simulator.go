package simulator

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/reconciler"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
)

// Source is what the simulator needs to build the next sample.
type Source interface {
	LatestReading() (model.SensorReading, error)
	Controls() (model.ControlState, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, in *protocol.Reading, source string) (model.SensorReading, error)
	EvaluateAutoIrrigation(ctx context.Context, r model.SensorReading) (bool, error)
}

// swappable for tests
var randFloat = rand.Float64

// baseline seeds the very first sample on an empty database.
var baseline = model.SensorReading{
	Temperature:  24,
	Humidity:     65,
	LightLevel:   750,
	SoilMoisture: 45,
	WaterLevel:   75,
}

type Simulator struct {
	source    Source
	rc        Reconciler
	connected func() bool
	interval  time.Duration
}

// New builds a simulator that stays quiet while connected reports true.
func New(source Source, rc Reconciler, connected func() bool, interval time.Duration) *Simulator {
	if connected == nil {
		connected = func() bool { return false }
	}
	return &Simulator{source: source, rc: rc, connected: connected, interval: interval}
}

// Run ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Sensor simulator started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sensor simulator stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("Simulated reading failed")
			}
		}
	}
}

// Tick produces and reconciles one sample. It reports false when skipped
// because a real controller is attached.
func (s *Simulator) Tick(ctx context.Context) (bool, error) {
	if s.connected() {
		log.Debug().Msg("Controller connected, skipping simulated reading")
		return false, nil
	}

	latest, err := s.source.LatestReading()
	if errors.Is(err, store.ErrNotFound) {
		latest, err = baseline, nil
	}
	if err != nil {
		return false, err
	}

	ctl, err := s.source.Controls()
	if err != nil {
		return false, err
	}

	saved, err := s.rc.Reconcile(ctx, Next(latest, ctl), reconciler.SourceSimulator)
	if err != nil {
		return false, err
	}
	if _, err := s.rc.EvaluateAutoIrrigation(ctx, saved); err != nil {
		return true, err
	}
	return true, nil
}

// Next jitters prev into a plausible following sample. The pump mirrors the
// irrigation control so reconciliation leaves the controls unchanged.
func Next(prev model.SensorReading, ctl model.ControlState) *protocol.Reading {
	temp := prev.Temperature + (randFloat()-0.5)*2
	humidity := clamp(prev.Humidity+(randFloat()-0.5)*5, 0, 100)

	return &protocol.Reading{
		Temperature:  &temp,
		Humidity:     &humidity,
		LightLevel:   math.Max(0, prev.LightLevel+(randFloat()-0.5)*100),
		SoilMoisture: clamp(prev.SoilMoisture+(randFloat()-0.5)*3, 0, 100),
		WaterLevel:   prev.WaterLevel,
		PumpStatus:   ctl.Irrigation,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
