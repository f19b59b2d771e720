package failsafe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

type Controls interface {
	Get() (model.ControlState, error)
}

// Stopper forces irrigation off and records why.
type Stopper interface {
	FailsafeStop(ctx context.Context, reason string) error
}

type Action struct {
	StopIrrigation bool
	RanFor         time.Duration
	Reason         string
}

// Watchdog caps how long irrigation may run without being switched off.
// Off-timers live in memory, so a restart mid-run would otherwise leave the
// pump on indefinitely.
type Watchdog struct {
	controls Controls
	stopper  Stopper
	maxRun   time.Duration
	interval time.Duration
	grace    time.Duration

	irrigatingSince time.Time
}

// swappable for tests
var now = time.Now

func NewWatchdog(ctl Controls, stopper Stopper, maxRun, interval time.Duration) *Watchdog {
	return &Watchdog{
		controls: ctl,
		stopper:  stopper,
		maxRun:   maxRun,
		interval: interval,
		grace:    2 * time.Minute,
	}
}

// Run evaluates every interval after an initial grace period. A zero maxRun
// disables the watchdog.
func (w *Watchdog) Run(ctx context.Context) {
	if w.maxRun <= 0 {
		log.Info().Msg("Irrigation failsafe disabled")
		return
	}
	log.Info().Dur("max_run", w.maxRun).Msg("Starting irrigation failsafe")

	select {
	case <-ctx.Done():
		return
	case <-time.After(w.grace):
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				log.Error().Err(err).Msg("Failsafe evaluation failed")
			}
		}
	}
}

// Check runs one evaluation cycle and carries out the resulting action.
func (w *Watchdog) Check(ctx context.Context) (Action, error) {
	c, err := w.controls.Get()
	if err != nil {
		return Action{}, fmt.Errorf("read controls: %w", err)
	}

	at := now()
	if !c.Irrigation {
		w.irrigatingSince = time.Time{}
		return Action{}, nil
	}
	if w.irrigatingSince.IsZero() {
		w.irrigatingSince = at
	}

	action := Evaluate(c, w.irrigatingSince, at, w.maxRun)
	if !action.StopIrrigation {
		return action, nil
	}

	log.Warn().
		Dur("ran_for", action.RanFor).
		Dur("max_run", w.maxRun).
		Msg("Irrigation exceeded maximum run time, forcing off")

	if err := w.stopper.FailsafeStop(ctx, action.Reason); err != nil {
		return action, err
	}
	w.irrigatingSince = time.Time{}
	return action, nil
}

// Evaluate decides whether irrigation that has been on since since must be
// forced off at at.
func Evaluate(c model.ControlState, since, at time.Time, maxRun time.Duration) Action {
	if !c.Irrigation || maxRun <= 0 || since.IsZero() {
		return Action{}
	}
	ranFor := at.Sub(since)
	if ranFor < maxRun {
		return Action{RanFor: ranFor}
	}
	return Action{
		StopIrrigation: true,
		RanFor:         ranFor,
		Reason:         fmt.Sprintf("Irrigation ran for %d minutes, limit is %d", int(ranFor.Minutes()), int(maxRun.Minutes())),
	}
}
