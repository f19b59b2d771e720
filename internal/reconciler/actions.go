package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/irrigation"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

// minute is the unit schedule and irrigate durations are expressed in.
var minute = time.Minute

// EvaluateAutoIrrigation starts irrigation when the first active automatic
// schedule's soil moisture threshold is breached and irrigation is off. It
// reports whether irrigation was started.
func (rc *Reconciler) EvaluateAutoIrrigation(ctx context.Context, r model.SensorReading) (bool, error) {
	schedules, err := rc.store.Schedules()
	if err != nil {
		return false, fmt.Errorf("load schedules: %w", err)
	}

	var schedule *model.IrrigationSchedule
	for i := range schedules {
		if schedules[i].IsAutomatic && schedules[i].IsActive {
			schedule = &schedules[i]
			break
		}
	}
	if schedule == nil {
		return false, nil
	}

	threshold, ok := schedule.Conditions.SoilMoistureMin()
	if !ok || r.SoilMoisture >= threshold {
		return false, nil
	}

	change, err := rc.controls.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = true
		return c
	})
	if err != nil {
		return false, fmt.Errorf("start irrigation: %w", err)
	}
	if !change.Changed() {
		return false, nil
	}

	rc.drivePump(true)
	if err := rc.logActivity("Automatic irrigation started",
		fmt.Sprintf("Trigger: soil moisture %.1f%% < %g%%", r.SoilMoisture, threshold), "fas fa-shower"); err != nil {
		return true, err
	}

	id := schedule.ID
	rc.timers.Schedule(irrigation.ScheduleKey(id), time.Duration(schedule.Duration)*minute, func() {
		rc.stopIrrigation(irrigation.ScheduleKey(id), "Automatic irrigation finished")
	})
	rc.hub.Broadcast(model.EventSystemControls, change.After)

	log.Info().
		Int64("schedule", id).
		Float64("soil_moisture", r.SoilMoisture).
		Float64("threshold", threshold).
		Msg("Automatic irrigation started")
	return true, nil
}

// StartIrrigation turns irrigation on for minutes and arms the off-timer.
func (rc *Reconciler) StartIrrigation(ctx context.Context, minutes int) (model.ControlState, error) {
	change, err := rc.controls.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = true
		return c
	})
	if err != nil {
		return change.After, fmt.Errorf("start irrigation: %w", err)
	}

	rc.drivePump(true)
	if err := rc.logActivity("Manual irrigation started", fmt.Sprintf("Scheduled duration: %d minutes", minutes), "fas fa-shower"); err != nil {
		return change.After, err
	}

	rc.timers.Schedule(irrigation.ManualKey, time.Duration(minutes)*minute, func() {
		rc.stopIrrigation(irrigation.ManualKey, "Manual irrigation finished")
	})
	rc.hub.Broadcast(model.EventSystemControls, change.After)
	return change.After, nil
}

// stopIrrigation is the off-timer body. It only acts if irrigation is still on.
func (rc *Reconciler) stopIrrigation(key, description string) {
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	change, err := rc.controls.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = false
		return c
	})
	if err != nil {
		log.Error().Err(err).Str("timer", key).Msg("Failed to stop irrigation")
		return
	}
	if !change.Changed() {
		return
	}

	rc.drivePump(false)
	if err := rc.logActivity(description, "Irrigation turned off by timer", "fas fa-shower"); err != nil {
		log.Error().Err(err).Msg("Failed to record irrigation stop")
	}
	rc.hub.Broadcast(model.EventSystemControls, change.After)
}

// EmergencyStop switches everything off, cancels pending irrigation, records
// the event and tells the controller when one is attached.
func (rc *Reconciler) EmergencyStop(ctx context.Context) (model.ControlState, error) {
	change, err := rc.controls.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = false
		c.Ventilation = false
		c.Lighting = false
		c.Heating = false
		return c
	})
	if err != nil {
		return change.After, fmt.Errorf("emergency stop: %w", err)
	}
	rc.timers.Stop()

	if rc.pump != nil && rc.pump.IsConnected() {
		if err := rc.pump.EmergencyStop(); err != nil {
			log.Error().Err(err).Msg("Failed to send emergency stop to controller")
		}
	}

	if err := rc.logActivity("Emergency stop activated", "All systems switched off for safety", "fas fa-stop-circle"); err != nil {
		return change.After, err
	}
	if _, err := rc.CreateAlert(model.SystemAlert{
		Title:   "Emergency stop",
		Message: "All systems have been switched off. Check the greenhouse.",
		Type:    model.AlertError,
	}); err != nil {
		return change.After, err
	}

	rc.hub.Broadcast(model.EventEmergencyStop, change.After)
	log.Warn().Msg("Emergency stop activated")
	return change.After, nil
}

// FailsafeStop forces irrigation off outside the normal timers and raises an
// error alert with reason.
func (rc *Reconciler) FailsafeStop(ctx context.Context, reason string) error {
	change, err := rc.controls.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = false
		return c
	})
	if err != nil {
		return fmt.Errorf("failsafe stop: %w", err)
	}
	if !change.Changed() {
		return nil
	}

	rc.drivePump(false)
	if err := rc.logActivity("Irrigation stopped by failsafe", reason, "fas fa-shield-alt"); err != nil {
		return err
	}
	if _, err := rc.CreateAlert(model.SystemAlert{
		Title:   "Irrigation failsafe",
		Message: reason,
		Type:    model.AlertError,
	}); err != nil {
		return err
	}
	rc.hub.Broadcast(model.EventSystemControls, change.After)
	return nil
}

// ScheduleChanged lets the timer registry react to a schedule edit or removal.
func (rc *Reconciler) ScheduleChanged(id int64) {
	rc.timers.ScheduleChanged(id)
}

// PendingTimers exposes armed off-timers.
func (rc *Reconciler) PendingTimers() []irrigation.Pending {
	return rc.timers.Pending()
}

func (rc *Reconciler) drivePump(on bool) {
	if rc.pump == nil || !rc.pump.IsConnected() {
		return
	}
	if err := rc.pump.ControlPump(on); err != nil {
		log.Error().Err(err).Bool("on", on).Msg("Failed to drive pump")
	}
}
