package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSeedDefaults(t *testing.T) {
	db := openTestDB(t)

	controls, err := GetControls(db)
	require.NoError(t, err)
	assert.False(t, controls.Irrigation)
	assert.True(t, controls.Ventilation)
	assert.False(t, controls.Lighting)
	assert.False(t, controls.Heating)

	schedules, err := GetSchedules(db)
	require.NoError(t, err)
	require.Len(t, schedules, 3)
	assert.Equal(t, "Morning irrigation", schedules[0].Name)
	assert.Equal(t, 15, schedules[0].Duration)
	assert.Nil(t, schedules[0].Conditions)

	emergency := schedules[2]
	assert.True(t, emergency.IsAutomatic)
	min, ok := emergency.Conditions.SoilMoistureMin()
	require.True(t, ok)
	assert.Equal(t, 30.0, min)

	// Seeding again leaves existing rows alone
	require.NoError(t, SeedDefaults(db))
	schedules, err = GetSchedules(db)
	require.NoError(t, err)
	assert.Len(t, schedules, 3)
}

func TestReadings(t *testing.T) {
	db := openTestDB(t)

	_, err := GetLatestReading(db)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 3; i++ {
		_, err := InsertReading(db, model.SensorReading{
			Temperature:  20 + float64(i),
			Humidity:     60,
			LightLevel:   500,
			SoilMoisture: 40,
			WaterLevel:   75,
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	latest, err := GetLatestReading(db)
	require.NoError(t, err)
	assert.Equal(t, 22.0, latest.Temperature)
	assert.NotZero(t, latest.ID)

	history, err := GetReadingHistory(db, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 21.0, history[0].Temperature)
	assert.Equal(t, 22.0, history[1].Temperature)

	n, err := PruneReadings(db, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpdateControls(t *testing.T) {
	db := openTestDB(t)

	before := time.Now().Add(-time.Second)
	saved, err := UpdateControls(db, model.ControlState{Irrigation: true, Heating: true})
	require.NoError(t, err)
	assert.True(t, saved.LastUpdated.After(before))

	got, err := GetControls(db)
	require.NoError(t, err)
	assert.True(t, got.Irrigation)
	assert.False(t, got.Ventilation)
	assert.True(t, got.Heating)
	assert.WithinDuration(t, saved.LastUpdated, got.LastUpdated, time.Millisecond)
}

func TestScheduleLifecycle(t *testing.T) {
	db := openTestDB(t)

	created, err := InsertSchedule(db, model.IrrigationSchedule{
		Name:     "Noon",
		Time:     "12:00",
		Duration: 7,
		IsActive: true,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	t.Run("partial update keeps untouched fields", func(t *testing.T) {
		duration := 9
		inactive := false
		updated, err := UpdateSchedule(db, created.ID, model.SchedulePatch{Duration: &duration, IsActive: &inactive})
		require.NoError(t, err)
		assert.Equal(t, "Noon", updated.Name)
		assert.Equal(t, 9, updated.Duration)
		assert.False(t, updated.IsActive)

		got, err := GetScheduleByID(db, created.ID)
		require.NoError(t, err)
		assert.Equal(t, updated.Duration, got.Duration)
		assert.Equal(t, updated.IsActive, got.IsActive)
	})

	t.Run("update missing schedule", func(t *testing.T) {
		name := "ghost"
		_, err := UpdateSchedule(db, 9999, model.SchedulePatch{Name: &name})
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, DeleteSchedule(db, created.ID))
		_, err := GetScheduleByID(db, created.ID)
		assert.ErrorIs(t, err, sql.ErrNoRows)
		assert.ErrorIs(t, DeleteSchedule(db, created.ID), sql.ErrNoRows)
	})
}

func TestAlerts(t *testing.T) {
	db := openTestDB(t)

	first, err := InsertAlert(db, model.SystemAlert{Title: "Low water", Message: "tank at 10%", Type: model.AlertWarning, CreatedAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	second, err := InsertAlert(db, model.SystemAlert{Title: "Hot", Message: "36C", Type: model.AlertError})
	require.NoError(t, err)

	alerts, err := GetAlerts(db)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, second.ID, alerts[0].ID)
	assert.Equal(t, model.AlertError, alerts[0].Type)

	require.NoError(t, MarkAlertRead(db, first.ID))
	alerts, err = GetAlerts(db)
	require.NoError(t, err)
	assert.True(t, alerts[1].IsRead)
	assert.False(t, alerts[0].IsRead)

	assert.ErrorIs(t, MarkAlertRead(db, 4242), sql.ErrNoRows)

	require.NoError(t, DeleteAlert(db, second.ID))
	assert.ErrorIs(t, DeleteAlert(db, second.ID), sql.ErrNoRows)
}

func TestRecentActivity(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, desc := range []string{"one", "two", "three"} {
		_, err := InsertActivity(db, model.SystemActivity{
			Description: desc,
			Icon:        "water_drop",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	activity, err := GetRecentActivity(db, 2)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, "three", activity[0].Description)
	assert.Equal(t, "two", activity[1].Description)
	assert.Empty(t, activity[0].Details)
}
