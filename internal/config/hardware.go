package config

import "time"

// QuadFC hardware and timing constants.

// --- Control loop ---
const (
	SensorPeriod = 2 * time.Millisecond  // IMU read and attitude estimate (500 Hz)
	EscPeriod    = 10 * time.Millisecond // PID compute and motor update (100 Hz)

	PidOutputMin = -100.0
	PidOutputMax = 100.0
)

// --- Task priorities (higher runs first) ---
const (
	PriorityControl    = 15
	PriorityPidSweep   = 13
	PriorityKillSwitch = 12
	PriorityTerminal   = 8
	PriorityRcDecode   = 6
	PriorityGps        = 5
	PriorityBattery    = 3
	PriorityTelemetry  = 2
)

// --- Links ---
const (
	WirelessTimeout   = 100 * time.Millisecond
	GpsTimeout        = time.Second
	BatteryPeriod     = 250 * time.Millisecond
	TelemetryPeriod   = time.Second
	CalibrationSettle = 2 * time.Second
)

// --- PID sweep ---
const (
	SweepLogInterval = 100 * time.Millisecond
	SweepThrottle    = 50
)
