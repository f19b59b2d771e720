package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

const (
	soilCritical = 30.0
	soilLow      = 50.0
	tempHigh     = 30.0
	tempLow      = 15.0
)

// EvaluateAlerts returns one alert per threshold the reading breaches.
func EvaluateAlerts(r model.SensorReading) []model.SystemAlert {
	var alerts []model.SystemAlert

	switch {
	case r.SoilMoisture < soilCritical:
		alerts = append(alerts, model.SystemAlert{
			Title:   "Critical soil moisture",
			Message: fmt.Sprintf("Soil moisture is %.1f%%. Irrigate immediately.", r.SoilMoisture),
			Type:    model.AlertError,
		})
	case r.SoilMoisture < soilLow:
		alerts = append(alerts, model.SystemAlert{
			Title:   "Low soil moisture",
			Message: fmt.Sprintf("Soil moisture is %.1f%%. Consider scheduling irrigation.", r.SoilMoisture),
			Type:    model.AlertWarning,
		})
	}

	if r.Temperature > tempHigh {
		alerts = append(alerts, model.SystemAlert{
			Title:   "High temperature",
			Message: fmt.Sprintf("Temperature is %.1f°C. Check ventilation.", r.Temperature),
			Type:    model.AlertWarning,
		})
	}
	if r.Temperature < tempLow {
		alerts = append(alerts, model.SystemAlert{
			Title:   "Low temperature",
			Message: fmt.Sprintf("Temperature is %.1f°C. Consider turning on heating.", r.Temperature),
			Type:    model.AlertWarning,
		})
	}
	return alerts
}

// dedup suppresses an alert when one with the same title and type was raised
// within window. A zero window lets everything through.
type dedup struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedup(window time.Duration) *dedup {
	return &dedup{window: window, seen: make(map[string]time.Time)}
}

func (d *dedup) allow(a model.SystemAlert, at time.Time) bool {
	if d.window <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := string(a.Type) + "|" + a.Title
	if last, ok := d.seen[key]; ok && at.Sub(last) < d.window {
		return false
	}
	d.seen[key] = at
	return true
}
