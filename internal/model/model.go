package model

import (
	"encoding/json"
	"time"
)

type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// Realtime event tags pushed to browser clients.
const (
	EventSensorData      = "sensor-data"
	EventSystemControls  = "system-controls"
	EventNewAlert        = "new-alert"
	EventAlertRead       = "alert-read"
	EventAlertDeleted    = "alert-deleted"
	EventScheduleCreated = "irrigation-schedule-created"
	EventScheduleUpdated = "irrigation-schedule-updated"
	EventScheduleDeleted = "irrigation-schedule-deleted"
	EventEmergencyStop   = "emergency-stop"
	EventArduinoStatus   = "arduino-status"
	EventArduinoData     = "arduino-data"
)

type SensorReading struct {
	ID            int64     `json:"id"`
	Temperature   float64   `json:"temperature"`
	Humidity      float64   `json:"humidity"`
	LightLevel    float64   `json:"lightLevel"`
	SoilMoisture  float64   `json:"soilMoisture"`
	WaterLevel    float64   `json:"waterLevel"`
	PumpStatus    bool      `json:"pumpStatus"`
	EmergencyMode bool      `json:"emergencyMode"`
	Timestamp     time.Time `json:"timestamp"`
}

// ControlState is the singleton actuator record shared by clients and the reconciler.
type ControlState struct {
	Irrigation  bool      `json:"irrigation"`
	Ventilation bool      `json:"ventilation"`
	Lighting    bool      `json:"lighting"`
	Heating     bool      `json:"heating"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// DefaultControlState matches the state a fresh install boots with.
func DefaultControlState() ControlState {
	return ControlState{Ventilation: true}
}

// ControlsPatch is a partial control update; nil fields keep their value.
type ControlsPatch struct {
	Irrigation  *bool `json:"irrigation,omitempty"`
	Ventilation *bool `json:"ventilation,omitempty"`
	Lighting    *bool `json:"lighting,omitempty"`
	Heating     *bool `json:"heating,omitempty"`
}

func (p ControlsPatch) Apply(c ControlState) ControlState {
	if p.Irrigation != nil {
		c.Irrigation = *p.Irrigation
	}
	if p.Ventilation != nil {
		c.Ventilation = *p.Ventilation
	}
	if p.Lighting != nil {
		c.Lighting = *p.Lighting
	}
	if p.Heating != nil {
		c.Heating = *p.Heating
	}
	return c
}

// Fields names the controls the patch touches.
func (p ControlsPatch) Fields() []string {
	var fields []string
	if p.Irrigation != nil {
		fields = append(fields, "irrigation")
	}
	if p.Ventilation != nil {
		fields = append(fields, "ventilation")
	}
	if p.Lighting != nil {
		fields = append(fields, "lighting")
	}
	if p.Heating != nil {
		fields = append(fields, "heating")
	}
	return fields
}

type Threshold struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ScheduleConditions is the threshold predicate evaluated for automatic schedules.
type ScheduleConditions struct {
	SoilMoisture *Threshold `json:"soilMoisture,omitempty"`
	Temperature  *Threshold `json:"temperature,omitempty"`
	Humidity     *Threshold `json:"humidity,omitempty"`
}

// SoilMoistureMin returns the soil moisture trigger, if the conditions carry one.
func (c *ScheduleConditions) SoilMoistureMin() (float64, bool) {
	if c == nil || c.SoilMoisture == nil || c.SoilMoisture.Min == nil {
		return 0, false
	}
	return *c.SoilMoisture.Min, true
}

type IrrigationSchedule struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Time        string              `json:"time"`
	Duration    int                 `json:"duration"` // minutes
	IsActive    bool                `json:"isActive"`
	IsAutomatic bool                `json:"isAutomatic"`
	Conditions  *ScheduleConditions `json:"conditions"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// SchedulePatch carries a partial schedule update; nil fields are left untouched.
type SchedulePatch struct {
	Name        *string             `json:"name,omitempty"`
	Time        *string             `json:"time,omitempty"`
	Duration    *int                `json:"duration,omitempty"`
	IsActive    *bool               `json:"isActive,omitempty"`
	IsAutomatic *bool               `json:"isAutomatic,omitempty"`
	Conditions  *ScheduleConditions `json:"conditions,omitempty"`
}

func (p SchedulePatch) Apply(s IrrigationSchedule) IrrigationSchedule {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Time != nil {
		s.Time = *p.Time
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.IsActive != nil {
		s.IsActive = *p.IsActive
	}
	if p.IsAutomatic != nil {
		s.IsAutomatic = *p.IsAutomatic
	}
	if p.Conditions != nil {
		s.Conditions = p.Conditions
	}
	return s
}

type SystemAlert struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      AlertType `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type SystemActivity struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	Details     string    `json:"details"`
	Icon        string    `json:"icon"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Event is the envelope every realtime message is wrapped in.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func ValidAlertType(t AlertType) bool {
	switch t {
	case AlertInfo, AlertWarning, AlertError:
		return true
	default:
		return false
	}
}

func Float64(v float64) *float64 {
	return &v
}
