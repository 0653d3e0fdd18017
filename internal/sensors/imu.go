// Package sensors reads the inertial sensors and estimates the attitude
// of the airframe from them.
package sensors

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

const (
	standardGravity = 9.80665

	microGToMS2    = standardGravity / 1e6
	microDPSToRadS = math.Pi / (180 * 1e6)

	// CalibrationSamples is the number of readings averaged by Calibrate.
	CalibrationSamples = 100
	// CalibrationInterval is the pause between calibration readings.
	CalibrationInterval = 10 * time.Millisecond
)

// Device is a six axis IMU. Acceleration is reported in micro g and
// rotation in micro degrees per second, as lsm6ds3tr.Device does.
type Device interface {
	ReadAcceleration() (x, y, z int32, err error)
	ReadRotation() (x, y, z int32, err error)
}

// Offsets are added to every reading. They are found by Calibrate and can
// be saved and restored.
type Offsets struct {
	Accel flight.Vector // m/s^2
	Gyro  flight.Vector // rad/s
}

// System reads the IMU and applies the calibration offsets.
type System struct {
	dev   Device
	clock timeutil.Clock

	mu      sync.Mutex
	offsets Offsets
	last    flight.SensorReadings
}

// NewSystem returns a sensor system reading dev.
func NewSystem(dev Device, clock timeutil.Clock) *System {
	return &System{dev: dev, clock: clock}
}

// Update reads the device once and returns calibrated readings in SI
// units. On error the previous readings are returned with the error.
func (s *System) Update() (flight.SensorReadings, error) {
	raw, err := s.read()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return s.last, err
	}
	s.last = flight.SensorReadings{
		Accel: add(raw.Accel, s.offsets.Accel),
		Gyro:  add(raw.Gyro, s.offsets.Gyro),
	}
	return s.last, nil
}

// Readings returns the readings of the last successful Update.
func (s *System) Readings() flight.SensorReadings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *System) read() (flight.SensorReadings, error) {
	ax, ay, az, err := s.dev.ReadAcceleration()
	if err != nil {
		return flight.SensorReadings{}, fmt.Errorf("reading acceleration: %w", err)
	}
	gx, gy, gz, err := s.dev.ReadRotation()
	if err != nil {
		return flight.SensorReadings{}, fmt.Errorf("reading rotation: %w", err)
	}
	return flight.SensorReadings{
		Accel: flight.Vector{
			X: float64(ax) * microGToMS2,
			Y: float64(ay) * microGToMS2,
			Z: float64(az) * microGToMS2,
		},
		Gyro: flight.Vector{
			X: float64(gx) * microDPSToRadS,
			Y: float64(gy) * microDPSToRadS,
			Z: float64(gz) * microDPSToRadS,
		},
	}, nil
}

// Calibrate finds the zero offsets. The airframe must be level and at
// rest: the gyro should then read zero on every axis and the accelerometer
// zero on X and Y and one g on Z.
func (s *System) Calibrate() (Offsets, error) {
	var accel, gyro flight.Vector
	for i := 0; i < CalibrationSamples; i++ {
		r, err := s.read()
		if err != nil {
			return Offsets{}, fmt.Errorf("calibration sample %d: %w", i, err)
		}
		accel = add(accel, r.Accel)
		gyro = add(gyro, r.Gyro)
		s.clock.Sleep(CalibrationInterval)
	}
	accel = scale(accel, 1.0/CalibrationSamples)
	gyro = scale(gyro, 1.0/CalibrationSamples)

	off := Offsets{
		Accel: flight.Vector{X: -accel.X, Y: -accel.Y, Z: standardGravity - accel.Z},
		Gyro:  scale(gyro, -1),
	}
	s.SetOffsets(off)

	monitoring.Logf("average accelerometer readings: %.3f %.3f %.3f", accel.X, accel.Y, accel.Z)
	monitoring.Logf("average gyroscope readings: %.5f %.5f %.5f", gyro.X, gyro.Y, gyro.Z)
	return off, nil
}

func (s *System) SetOffsets(o Offsets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = o
}

func (s *System) Offsets() Offsets {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets
}

// pitchAccel returns the pitch in radians implied by the gravity vector.
func pitchAccel(a flight.Vector) float64 {
	return math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))
}

// rollAccel returns the roll in radians implied by the gravity vector.
func rollAccel(a flight.Vector) float64 {
	return math.Atan2(a.Y, a.Z)
}

func add(a, b flight.Vector) flight.Vector {
	return flight.Vector{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func scale(a flight.Vector, k float64) flight.Vector {
	return flight.Vector{X: a.X * k, Y: a.Y * k, Z: a.Z * k}
}
