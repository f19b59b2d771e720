package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SetControlCLI flips one actuator in the control-state singleton.
func SetControlCLI(dbPath, control string, on bool) error {
	column, ok := map[string]string{
		"irrigation":  "irrigation",
		"ventilation": "ventilation",
		"lighting":    "lighting",
		"heating":     "heating",
	}[control]
	if !ok {
		return fmt.Errorf("unknown control %q", control)
	}

	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	tx, err := StartTransaction(dbConn)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE system_controls SET `+column+` = ?, last_updated = ? WHERE id = 1`, on, formatTime(time.Now()))
	if err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("failed to set %s: %w", control, err)
	}
	return CommitTransaction(tx)
}

// MarkAllAlertsReadCLI marks every unread alert as read and reports how many changed.
func MarkAllAlertsReadCLI(dbPath string) (int64, error) {
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return 0, err
	}
	defer dbConn.Close()

	tx, err := StartTransaction(dbConn)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`UPDATE system_alerts SET is_read = TRUE WHERE is_read = FALSE`)
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("failed to mark alerts read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, CommitTransaction(tx)
}

// PruneReadingsCLI deletes sensor readings older than cutoff.
func PruneReadingsCLI(dbPath string, cutoff time.Time) (int64, error) {
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return 0, err
	}
	defer dbConn.Close()
	return PruneReadings(dbConn, cutoff)
}

func PruneReadings(db *sql.DB, cutoff time.Time) (int64, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM sensor_readings WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("failed to prune readings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, CommitTransaction(tx)
}
