package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

const readingColumns = `id, temperature, humidity, light_level, soil_moisture, water_level, pump_status, emergency_mode, timestamp`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (model.SensorReading, error) {
	var r model.SensorReading
	var ts string
	err := row.Scan(&r.ID, &r.Temperature, &r.Humidity, &r.LightLevel, &r.SoilMoisture, &r.WaterLevel, &r.PumpStatus, &r.EmergencyMode, &ts)
	if err != nil {
		return r, err
	}
	r.Timestamp = parseTime(ts)
	return r, nil
}

// GetLatestReading returns the most recent sensor reading.
func GetLatestReading(db *sql.DB) (model.SensorReading, error) {
	r, err := scanReading(db.QueryRow(`SELECT ` + readingColumns + ` FROM sensor_readings ORDER BY timestamp DESC, id DESC LIMIT 1`))
	if err != nil {
		return r, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return r, nil
}

// GetReadingHistory returns readings taken at or after since, oldest first.
func GetReadingHistory(db *sql.DB, since time.Time) ([]model.SensorReading, error) {
	rows, err := db.Query(`SELECT `+readingColumns+` FROM sensor_readings WHERE timestamp >= ? ORDER BY timestamp ASC, id ASC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query reading history: %w", err)
	}
	defer rows.Close()

	readings := []model.SensorReading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// GetControls retrieves the control-state singleton.
func GetControls(db *sql.DB) (model.ControlState, error) {
	var c model.ControlState
	var lastUpdated string
	err := db.QueryRow(`SELECT irrigation, ventilation, lighting, heating, last_updated FROM system_controls WHERE id = 1`).
		Scan(&c.Irrigation, &c.Ventilation, &c.Lighting, &c.Heating, &lastUpdated)
	if err != nil {
		return c, fmt.Errorf("failed to get system controls: %w", err)
	}
	c.LastUpdated = parseTime(lastUpdated)
	return c, nil
}

const scheduleColumns = `id, name, time, duration, is_active, is_automatic, conditions, created_at`

func scanSchedule(row rowScanner) (model.IrrigationSchedule, error) {
	var s model.IrrigationSchedule
	var conditions sql.NullString
	var createdAt string
	err := row.Scan(&s.ID, &s.Name, &s.Time, &s.Duration, &s.IsActive, &s.IsAutomatic, &conditions, &createdAt)
	if err != nil {
		return s, err
	}
	s.Conditions = unmarshalConditions(conditions)
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

// GetSchedules retrieves all irrigation schedules in creation order.
func GetSchedules(db *sql.DB) ([]model.IrrigationSchedule, error) {
	rows, err := db.Query(`SELECT ` + scheduleColumns + ` FROM irrigation_schedules ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := []model.IrrigationSchedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func GetScheduleByID(db *sql.DB, id int64) (model.IrrigationSchedule, error) {
	s, err := scanSchedule(db.QueryRow(`SELECT `+scheduleColumns+` FROM irrigation_schedules WHERE id = ?`, id))
	if err != nil {
		return s, fmt.Errorf("failed to get schedule %d: %w", id, err)
	}
	return s, nil
}

// GetAlerts retrieves all alerts, newest first.
func GetAlerts(db *sql.DB) ([]model.SystemAlert, error) {
	rows, err := db.Query(`SELECT id, title, message, type, is_read, created_at FROM system_alerts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []model.SystemAlert{}
	for rows.Next() {
		var a model.SystemAlert
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &a.Type, &a.IsRead, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetRecentActivity retrieves up to limit activity entries, newest first.
func GetRecentActivity(db *sql.DB, limit int) ([]model.SystemActivity, error) {
	rows, err := db.Query(`SELECT id, description, details, icon, created_at FROM system_activity ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	activities := []model.SystemActivity{}
	for rows.Next() {
		var a model.SystemActivity
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Description, &details, &a.Icon, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Details = details.String
		a.CreatedAt = parseTime(createdAt)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
