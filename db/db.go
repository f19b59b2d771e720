package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	temperature REAL NOT NULL,
	humidity REAL NOT NULL,
	light_level REAL NOT NULL,
	soil_moisture REAL NOT NULL,
	water_level REAL NOT NULL DEFAULT 75,
	pump_status BOOLEAN NOT NULL DEFAULT FALSE,
	emergency_mode BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_timestamp ON sensor_readings (timestamp);

CREATE TABLE IF NOT EXISTS system_controls (
	id INTEGER PRIMARY KEY CHECK(id=1),
	irrigation BOOLEAN NOT NULL DEFAULT FALSE,
	ventilation BOOLEAN NOT NULL DEFAULT FALSE,
	lighting BOOLEAN NOT NULL DEFAULT FALSE,
	heating BOOLEAN NOT NULL DEFAULT FALSE,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS irrigation_schedules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	time TEXT NOT NULL,
	duration INTEGER NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_automatic BOOLEAN NOT NULL DEFAULT FALSE,
	conditions TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	type TEXT NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_activity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	description TEXT NOT NULL,
	details TEXT,
	icon TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Open opens the sqlite file at path, applies the schema and seeds defaults.
// A single connection is used so ":memory:" databases survive across calls.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := ApplySchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := SeedDefaults(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SeedDefaults inserts the control-state singleton and the starter irrigation
// schedules. Existing rows are left alone.
func SeedDefaults(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	defaults := model.DefaultControlState()
	_, err = tx.Exec(`INSERT OR IGNORE INTO system_controls (id, irrigation, ventilation, lighting, heating, last_updated) VALUES (1, ?, ?, ?, ?, ?)`,
		defaults.Irrigation, defaults.Ventilation, defaults.Lighting, defaults.Heating, now)
	if err != nil {
		return fmt.Errorf("failed to insert system controls: %w", err)
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM irrigation_schedules`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count schedules: %w", err)
	}

	if count == 0 {
		seeds := []model.IrrigationSchedule{
			{Name: "Morning irrigation", Time: "06:00", Duration: 15, IsActive: true},
			{Name: "Evening irrigation", Time: "18:00", Duration: 10, IsActive: true},
			{
				Name:        "Emergency irrigation",
				Time:        "00:00",
				Duration:    5,
				IsActive:    true,
				IsAutomatic: true,
				Conditions: &model.ScheduleConditions{
					SoilMoisture: &model.Threshold{Min: model.Float64(30)},
				},
			},
		}
		for _, s := range seeds {
			_, err = tx.Exec(`INSERT INTO irrigation_schedules (name, time, duration, is_active, is_automatic, conditions, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				s.Name, s.Time, s.Duration, s.IsActive, s.IsAutomatic, marshalConditions(s.Conditions), now)
			if err != nil {
				return fmt.Errorf("failed to insert schedule %s: %w", s.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}

	log.Debug().Int("existing_schedules", count).Msg("Database defaults seeded")
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func marshalConditions(c *model.ScheduleConditions) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	b, _ := json.Marshal(c)
	return sql.NullString{String: string(b), Valid: true}
}

func unmarshalConditions(s sql.NullString) *model.ScheduleConditions {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	var c model.ScheduleConditions
	if err := json.Unmarshal([]byte(s.String), &c); err != nil {
		return nil
	}
	return &c
}
