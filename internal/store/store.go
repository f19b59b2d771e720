package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the data-access surface the session core and REST layer depend on.
type Store interface {
	InsertReading(r model.SensorReading) (model.SensorReading, error)
	LatestReading() (model.SensorReading, error)
	ReadingHistory(since time.Time) ([]model.SensorReading, error)

	Controls() (model.ControlState, error)
	UpdateControls(c model.ControlState) (model.ControlState, error)

	Schedules() ([]model.IrrigationSchedule, error)
	Schedule(id int64) (model.IrrigationSchedule, error)
	CreateSchedule(s model.IrrigationSchedule) (model.IrrigationSchedule, error)
	UpdateSchedule(id int64, patch model.SchedulePatch) (model.IrrigationSchedule, error)
	DeleteSchedule(id int64) error

	Alerts() ([]model.SystemAlert, error)
	CreateAlert(a model.SystemAlert) (model.SystemAlert, error)
	MarkAlertRead(id int64) error
	DeleteAlert(id int64) error

	RecentActivity(limit int) ([]model.SystemActivity, error)
	LogActivity(a model.SystemActivity) (model.SystemActivity, error)
}

// SQLite implements Store on top of the db package.
type SQLite struct {
	conn *sql.DB
}

func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{conn: conn}
}

// Open opens (creating if needed) the sqlite file at path.
func Open(path string) (*SQLite, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return NewSQLite(conn), nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

// DB exposes the underlying handle for maintenance helpers.
func (s *SQLite) DB() *sql.DB {
	return s.conn
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (s *SQLite) InsertReading(r model.SensorReading) (model.SensorReading, error) {
	return db.InsertReading(s.conn, r)
}

func (s *SQLite) LatestReading() (model.SensorReading, error) {
	r, err := db.GetLatestReading(s.conn)
	return r, notFound(err)
}

func (s *SQLite) ReadingHistory(since time.Time) ([]model.SensorReading, error) {
	return db.GetReadingHistory(s.conn, since)
}

func (s *SQLite) Controls() (model.ControlState, error) {
	c, err := db.GetControls(s.conn)
	return c, notFound(err)
}

func (s *SQLite) UpdateControls(c model.ControlState) (model.ControlState, error) {
	return db.UpdateControls(s.conn, c)
}

func (s *SQLite) Schedules() ([]model.IrrigationSchedule, error) {
	return db.GetSchedules(s.conn)
}

func (s *SQLite) Schedule(id int64) (model.IrrigationSchedule, error) {
	sc, err := db.GetScheduleByID(s.conn, id)
	return sc, notFound(err)
}

func (s *SQLite) CreateSchedule(sc model.IrrigationSchedule) (model.IrrigationSchedule, error) {
	return db.InsertSchedule(s.conn, sc)
}

func (s *SQLite) UpdateSchedule(id int64, patch model.SchedulePatch) (model.IrrigationSchedule, error) {
	sc, err := db.UpdateSchedule(s.conn, id, patch)
	return sc, notFound(err)
}

func (s *SQLite) DeleteSchedule(id int64) error {
	return notFound(db.DeleteSchedule(s.conn, id))
}

func (s *SQLite) Alerts() ([]model.SystemAlert, error) {
	return db.GetAlerts(s.conn)
}

func (s *SQLite) CreateAlert(a model.SystemAlert) (model.SystemAlert, error) {
	return db.InsertAlert(s.conn, a)
}

func (s *SQLite) MarkAlertRead(id int64) error {
	return notFound(db.MarkAlertRead(s.conn, id))
}

func (s *SQLite) DeleteAlert(id int64) error {
	return notFound(db.DeleteAlert(s.conn, id))
}

func (s *SQLite) RecentActivity(limit int) ([]model.SystemActivity, error) {
	return db.GetRecentActivity(s.conn, limit)
}

func (s *SQLite) LogActivity(a model.SystemActivity) (model.SystemActivity, error) {
	return db.InsertActivity(s.conn, a)
}
