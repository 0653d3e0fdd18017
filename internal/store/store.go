// Package store persists tuning values, PID sweep samples and telemetry
// snapshots in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/pid"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// The control, sweep and telemetry tasks all write.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA busy_timeout = 5000;
		CREATE TABLE IF NOT EXISTS pid_gains (
			axis              TEXT PRIMARY KEY,
			kp                DOUBLE,
			ki                DOUBLE,
			kd                DOUBLE,
			updated_at        BIGINT
		);
		CREATE TABLE IF NOT EXISTS settings (
			name              TEXT PRIMARY KEY,
			value             DOUBLE,
			updated_at        BIGINT
		);
		CREATE TABLE IF NOT EXISTS sweeps (
			sweep_id          TEXT PRIMARY KEY,
			axis              TEXT,
			started_at        BIGINT
		);
		CREATE TABLE IF NOT EXISTS sweep_samples (
			sweep_id          TEXT,
			kp                DOUBLE,
			ki                DOUBLE,
			kd                DOUBLE,
			time_ms           BIGINT,
			setpoint          DOUBLE,
			measured          DOUBLE,
			output            DOUBLE,
			FOREIGN KEY(sweep_id) REFERENCES sweeps(sweep_id)
		);
		CREATE TABLE IF NOT EXISTS telemetry (
			taken_at          BIGINT,
			name              TEXT,
			value             TEXT
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db}, nil
}

// SaveGains stores the user facing gains of one axis.
func (db *DB) SaveGains(axis string, g pid.Gains) error {
	_, err := db.Exec(`
		INSERT INTO pid_gains (axis, kp, ki, kd, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(axis) DO UPDATE SET kp = excluded.kp, ki = excluded.ki, kd = excluded.kd, updated_at = excluded.updated_at`,
		axis, g.Kp, g.Ki, g.Kd, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving %s gains: %w", axis, err)
	}
	return nil
}

// Gains returns the stored gains keyed by axis name.
func (db *DB) Gains() (map[string]pid.Gains, error) {
	rows, err := db.Query(`SELECT axis, kp, ki, kd FROM pid_gains`)
	if err != nil {
		return nil, fmt.Errorf("loading gains: %w", err)
	}
	defer rows.Close()

	out := make(map[string]pid.Gains)
	for rows.Next() {
		var axis string
		var g pid.Gains
		if err := rows.Scan(&axis, &g.Kp, &g.Ki, &g.Kd); err != nil {
			return nil, fmt.Errorf("loading gains: %w", err)
		}
		out[axis] = g
	}
	return out, rows.Err()
}

func (db *DB) setSettings(values map[string]float64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	for name, v := range values {
		_, err := tx.Exec(`
			INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			name, v, now)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// settings returns the requested settings. ok is false unless every name
// is present.
func (db *DB) settings(names ...string) (values []float64, ok bool, err error) {
	values = make([]float64, len(names))
	for i, name := range names {
		err := db.QueryRow(`SELECT value FROM settings WHERE name = ?`, name).Scan(&values[i])
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
	return values, true, nil
}

const lowBatteryTrigger = "low_battery_trigger"

func (db *DB) SaveLowBatteryTrigger(p uint8) error {
	if err := db.setSettings(map[string]float64{lowBatteryTrigger: float64(p)}); err != nil {
		return fmt.Errorf("saving low battery trigger: %w", err)
	}
	return nil
}

// LowBatteryTrigger returns the stored trigger percentage. ok is false
// when none has been saved.
func (db *DB) LowBatteryTrigger() (p uint8, ok bool, err error) {
	v, ok, err := db.settings(lowBatteryTrigger)
	if err != nil || !ok {
		return 0, false, err
	}
	return uint8(v[0]), true, nil
}

var calibrationNames = []string{
	"accel_offset_x", "accel_offset_y", "accel_offset_z",
	"gyro_offset_x", "gyro_offset_y", "gyro_offset_z",
}

// SaveCalibration stores the sensor zero offsets.
func (db *DB) SaveCalibration(accel, gyro flight.Vector) error {
	values := []float64{accel.X, accel.Y, accel.Z, gyro.X, gyro.Y, gyro.Z}
	m := make(map[string]float64, len(values))
	for i, name := range calibrationNames {
		m[name] = values[i]
	}
	if err := db.setSettings(m); err != nil {
		return fmt.Errorf("saving calibration: %w", err)
	}
	return nil
}

// Calibration returns the stored sensor zero offsets.
func (db *DB) Calibration() (accel, gyro flight.Vector, ok bool, err error) {
	v, ok, err := db.settings(calibrationNames...)
	if err != nil {
		return accel, gyro, false, fmt.Errorf("loading calibration: %w", err)
	}
	if !ok {
		return accel, gyro, false, nil
	}
	return flight.Vector{X: v[0], Y: v[1], Z: v[2]}, flight.Vector{X: v[3], Y: v[4], Z: v[5]}, true, nil
}

// SweepSample is one PID input/output record taken during a sweep.
type SweepSample struct {
	Gains    pid.Gains
	TimeMs   uint32
	Setpoint float64
	Measured float64
	Output   float64
}

// StartSweep registers a new sweep of axis and returns its ID.
func (db *DB) StartSweep(axis string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.Exec(`INSERT INTO sweeps (sweep_id, axis, started_at) VALUES (?, ?, ?)`,
		id.String(), axis, time.Now().UnixNano())
	if err != nil {
		return uuid.Nil, fmt.Errorf("starting sweep: %w", err)
	}
	return id, nil
}

func (db *DB) RecordSweepSample(id uuid.UUID, s SweepSample) error {
	_, err := db.Exec(`
		INSERT INTO sweep_samples (sweep_id, kp, ki, kd, time_ms, setpoint, measured, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), s.Gains.Kp, s.Gains.Ki, s.Gains.Kd, s.TimeMs, s.Setpoint, s.Measured, s.Output)
	if err != nil {
		return fmt.Errorf("recording sweep sample: %w", err)
	}
	return nil
}

// SweepSamples returns the samples of a sweep in recording order.
func (db *DB) SweepSamples(id uuid.UUID) ([]SweepSample, error) {
	rows, err := db.Query(`
		SELECT kp, ki, kd, time_ms, setpoint, measured, output
		FROM sweep_samples WHERE sweep_id = ? ORDER BY rowid`, id.String())
	if err != nil {
		return nil, fmt.Errorf("loading sweep %s: %w", id, err)
	}
	defer rows.Close()

	var out []SweepSample
	for rows.Next() {
		var s SweepSample
		if err := rows.Scan(&s.Gains.Kp, &s.Gains.Ki, &s.Gains.Kd, &s.TimeMs, &s.Setpoint, &s.Measured, &s.Output); err != nil {
			return nil, fmt.Errorf("loading sweep %s: %w", id, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordTelemetry stores one snapshot, one row per variable.
func (db *DB) RecordTelemetry(at time.Time, vars []flight.Var) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("recording telemetry: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO telemetry (taken_at, name, value) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("recording telemetry: %w", err)
	}
	defer stmt.Close()

	for _, v := range vars {
		if _, err := stmt.Exec(at.UnixNano(), v.Name, fmt.Sprint(v.Value)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording telemetry %s: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

// LatestTelemetry returns the most recent snapshot as text values.
func (db *DB) LatestTelemetry() (time.Time, map[string]string, error) {
	var takenAt sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(taken_at) FROM telemetry`).Scan(&takenAt); err != nil {
		return time.Time{}, nil, fmt.Errorf("loading telemetry: %w", err)
	}
	if !takenAt.Valid {
		return time.Time{}, nil, nil
	}

	rows, err := db.Query(`SELECT name, value FROM telemetry WHERE taken_at = ?`, takenAt.Int64)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("loading telemetry: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return time.Time{}, nil, fmt.Errorf("loading telemetry: %w", err)
		}
		vars[name] = value
	}
	return time.Unix(0, takenAt.Int64), vars, rows.Err()
}

var batterySpanNames = []string{"battery_low_mv", "battery_high_mv"}

// SaveBatterySpan stores the lowest and highest pack voltages seen.
func (db *DB) SaveBatterySpan(lowMv, highMv int32) error {
	err := db.setSettings(map[string]float64{
		batterySpanNames[0]: float64(lowMv),
		batterySpanNames[1]: float64(highMv),
	})
	if err != nil {
		return fmt.Errorf("saving battery span: %w", err)
	}
	return nil
}

// BatterySpan returns the stored battery span.
func (db *DB) BatterySpan() (lowMv, highMv int32, ok bool, err error) {
	v, ok, err := db.settings(batterySpanNames...)
	if err != nil {
		return 0, 0, false, fmt.Errorf("loading battery span: %w", err)
	}
	if !ok {
		return 0, 0, false, nil
	}
	return int32(v[0]), int32(v[1]), true, nil
}
