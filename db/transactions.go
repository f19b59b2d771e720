package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func InsertReading(db *sql.DB, r model.SensorReading) (model.SensorReading, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	res, err := db.Exec(`INSERT INTO sensor_readings (temperature, humidity, light_level, soil_moisture, water_level, pump_status, emergency_mode, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Temperature, r.Humidity, r.LightLevel, r.SoilMoisture, r.WaterLevel, r.PumpStatus, r.EmergencyMode, formatTime(r.Timestamp))
	if err != nil {
		return r, fmt.Errorf("insert reading: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return r, nil
}

// UpdateControls overwrites the control-state singleton and stamps last_updated.
func UpdateControls(db *sql.DB, c model.ControlState) (model.ControlState, error) {
	c.LastUpdated = time.Now()
	tx, err := db.Begin()
	if err != nil {
		return c, fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`UPDATE system_controls SET irrigation = ?, ventilation = ?, lighting = ?, heating = ?, last_updated = ? WHERE id = 1`,
		c.Irrigation, c.Ventilation, c.Lighting, c.Heating, formatTime(c.LastUpdated))
	if err != nil {
		tx.Rollback()
		return c, fmt.Errorf("update system controls: %w", err)
	}
	return c, tx.Commit()
}

func InsertSchedule(db *sql.DB, s model.IrrigationSchedule) (model.IrrigationSchedule, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	res, err := db.Exec(`INSERT INTO irrigation_schedules (name, time, duration, is_active, is_automatic, conditions, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Name, s.Time, s.Duration, s.IsActive, s.IsAutomatic, marshalConditions(s.Conditions), formatTime(s.CreatedAt))
	if err != nil {
		return s, fmt.Errorf("insert schedule: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	return s, nil
}

// UpdateSchedule applies patch to schedule id inside one transaction.
func UpdateSchedule(db *sql.DB, id int64, patch model.SchedulePatch) (model.IrrigationSchedule, error) {
	tx, err := db.Begin()
	if err != nil {
		return model.IrrigationSchedule{}, fmt.Errorf("start transaction: %w", err)
	}

	current, err := scanSchedule(tx.QueryRow(`SELECT `+scheduleColumns+` FROM irrigation_schedules WHERE id = ?`, id))
	if err != nil {
		tx.Rollback()
		return current, fmt.Errorf("get schedule %d: %w", id, err)
	}

	updated := patch.Apply(current)
	_, err = tx.Exec(`UPDATE irrigation_schedules SET name = ?, time = ?, duration = ?, is_active = ?, is_automatic = ?, conditions = ? WHERE id = ?`,
		updated.Name, updated.Time, updated.Duration, updated.IsActive, updated.IsAutomatic, marshalConditions(updated.Conditions), id)
	if err != nil {
		tx.Rollback()
		return current, fmt.Errorf("update schedule %d: %w", id, err)
	}
	return updated, tx.Commit()
}

func DeleteSchedule(db *sql.DB, id int64) error {
	return execAffectingOne(db, `DELETE FROM irrigation_schedules WHERE id = ?`, id)
}

func InsertAlert(db *sql.DB, a model.SystemAlert) (model.SystemAlert, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := db.Exec(`INSERT INTO system_alerts (title, message, type, is_read, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.Title, a.Message, string(a.Type), a.IsRead, formatTime(a.CreatedAt))
	if err != nil {
		return a, fmt.Errorf("insert alert: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return a, nil
}

func MarkAlertRead(db *sql.DB, id int64) error {
	return execAffectingOne(db, `UPDATE system_alerts SET is_read = TRUE WHERE id = ?`, id)
}

func DeleteAlert(db *sql.DB, id int64) error {
	return execAffectingOne(db, `DELETE FROM system_alerts WHERE id = ?`, id)
}

func InsertActivity(db *sql.DB, a model.SystemActivity) (model.SystemActivity, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := db.Exec(`INSERT INTO system_activity (description, details, icon, created_at) VALUES (?, ?, ?, ?)`,
		a.Description, a.Details, a.Icon, formatTime(a.CreatedAt))
	if err != nil {
		return a, fmt.Errorf("insert activity: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return a, nil
}

// execAffectingOne runs a single-row write and reports sql.ErrNoRows when
// nothing matched.
func execAffectingOne(db *sql.DB, query string, id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	res, err := tx.Exec(query, id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("exec for id %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return fmt.Errorf("id %d: %w", id, sql.ErrNoRows)
	}
	return tx.Commit()
}
