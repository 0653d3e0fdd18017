package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/pid"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "quadfc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGains(t *testing.T) {
	db := openTestDB(t)

	got, err := db.Gains()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, db.SaveGains("roll", pid.Gains{Kp: 1, Ki: 0.5, Kd: 0.1}))
	require.NoError(t, db.SaveGains("pitch", pid.Gains{Kp: 2}))
	require.NoError(t, db.SaveGains("roll", pid.Gains{Kp: 3, Ki: 0.25, Kd: 0}))

	got, err = db.Gains()
	require.NoError(t, err)
	assert.Equal(t, map[string]pid.Gains{
		"roll":  {Kp: 3, Ki: 0.25},
		"pitch": {Kp: 2},
	}, got)
}

func TestLowBatteryTrigger(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := db.LowBatteryTrigger()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveLowBatteryTrigger(35))
	p, ok, err := db.LowBatteryTrigger()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint8(35), p)
}

func TestCalibration(t *testing.T) {
	db := openTestDB(t)

	_, _, ok, err := db.Calibration()
	require.NoError(t, err)
	assert.False(t, ok)

	accel := flight.Vector{X: -0.1, Y: 0.2, Z: 0.05}
	gyro := flight.Vector{X: 0.01, Y: -0.02, Z: 0.003}
	require.NoError(t, db.SaveCalibration(accel, gyro))

	gotAccel, gotGyro, ok, err := db.Calibration()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, accel, gotAccel)
	assert.Equal(t, gyro, gotGyro)
}

func TestSweepSamples(t *testing.T) {
	db := openTestDB(t)

	id, err := db.StartSweep("roll")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	other, err := db.StartSweep("roll")
	require.NoError(t, err)

	samples := []SweepSample{
		{Gains: pid.Gains{Kp: 1}, TimeMs: 100, Setpoint: 0, Measured: 2, Output: -2},
		{Gains: pid.Gains{Kp: 1}, TimeMs: 200, Setpoint: 0, Measured: 1, Output: -1},
		{Gains: pid.Gains{Kp: 2}, TimeMs: 2300, Setpoint: 0, Measured: -1, Output: 2},
	}
	for _, s := range samples {
		require.NoError(t, db.RecordSweepSample(id, s))
	}
	require.NoError(t, db.RecordSweepSample(other, SweepSample{TimeMs: 1}))

	got, err := db.SweepSamples(id)
	require.NoError(t, err)
	if diff := cmp.Diff(samples, got); diff != "" {
		t.Errorf("sweep samples mismatch (-want +got):\n%s", diff)
	}
}

func TestTelemetry(t *testing.T) {
	db := openTestDB(t)

	at, vars, err := db.LatestTelemetry()
	require.NoError(t, err)
	assert.True(t, at.IsZero())
	assert.Nil(t, vars)

	t0 := time.Unix(100, 0)
	require.NoError(t, db.RecordTelemetry(t0, []flight.Var{{Name: "mode", Value: "full-manual"}}))
	t1 := t0.Add(time.Second)
	require.NoError(t, db.RecordTelemetry(t1, []flight.Var{
		{Name: "mode", Value: "kill-switch"},
		{Name: "battery_percent", Value: uint8(87)},
		{Name: "armed", Value: false},
	}))

	at, vars, err = db.LatestTelemetry()
	require.NoError(t, err)
	assert.True(t, at.Equal(t1))
	assert.Equal(t, map[string]string{
		"mode":            "kill-switch",
		"battery_percent": "87",
		"armed":           "false",
	}, vars)
}

func TestReopenKeepsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quadfc.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveGains("yaw", pid.Gains{Kd: 4}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Gains()
	require.NoError(t, err)
	assert.Equal(t, pid.Gains{Kd: 4}, got["yaw"])
}

func TestBatterySpan(t *testing.T) {
	db := openTestDB(t)

	_, _, ok, err := db.BatterySpan()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveBatterySpan(9800, 12600))
	require.NoError(t, db.SaveBatterySpan(9600, 12600))
	low, high, ok, err := db.BatterySpan()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(9600), low)
	assert.Equal(t, int32(12600), high)
}
