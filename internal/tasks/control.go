// Package tasks holds the periodic jobs that keep the quadcopter flying:
// the control loop, the safety links, the receivers and the loggers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/led"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/sensors"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

const (
	maxSkewLogs     = 10
	skewToleranceMs = uint32(config.SensorPeriod / time.Millisecond)
)

// Sensors is the IMU as the control loop sees it.
type Sensors interface {
	Update() (flight.SensorReadings, error)
	Calibrate() (sensors.Offsets, error)
}

// StatusLEDs shows the vehicle state. *led.Status implements it.
type StatusLEDs interface {
	Update(src led.StatusSource) error
}

// CalibrationStore persists sensor zero offsets.
type CalibrationStore interface {
	SaveCalibration(accel, gyro flight.Vector) error
}

// ControlTask reads the sensors every run and updates the motors every
// ESC period.
type ControlTask struct {
	q       *quadcopter.Quadcopter
	sensors Sensors
	clock   timeutil.Clock
	millis  func() uint32
	leds    StatusLEDs
	store   CalibrationStore

	calibrate chan struct{}

	lastCallMs      uint32
	lastPidUpdateMs uint32
	highestLoopUs   atomic.Uint32
}

func NewControlTask(q *quadcopter.Quadcopter, s Sensors, clock timeutil.Clock) *ControlTask {
	return &ControlTask{
		q:         q,
		sensors:   s,
		clock:     clock,
		millis:    timeutil.Uptime(clock),
		calibrate: make(chan struct{}, 1),
	}
}

// SetStatusLEDs sets the LEDs updated between ESC cycles.
func (c *ControlTask) SetStatusLEDs(l StatusLEDs) { c.leds = l }

// SetCalibrationStore makes calibration results persistent.
func (c *ControlTask) SetCalibrationStore(s CalibrationStore) { c.store = s }

// CalibrationRequests is signalled to zero the sensors on the next run.
func (c *ControlTask) CalibrationRequests() chan<- struct{} { return c.calibrate }

func (c *ControlTask) Name() string { return "quadcopter" }

func (c *ControlTask) Priority() int { return config.PriorityControl }

func (c *ControlTask) Period() time.Duration { return config.SensorPeriod }

func (c *ControlTask) Init(context.Context) error {
	err := c.q.SetCommonPidParameters(config.PidOutputMin, config.PidOutputMax, uint32(config.EscPeriod.Milliseconds()))
	if err != nil {
		return fmt.Errorf("setting PID parameters: %w", err)
	}
	return nil
}

func (c *ControlTask) Run(context.Context) error {
	start := c.clock.Now()
	millis := c.millis()

	select {
	case <-c.calibrate:
		err := c.calibrateSensors()
		c.lastCallMs = 0
		return err
	default:
	}

	c.detectTimingSkew(millis)

	var errs []error
	readings, err := c.sensors.Update()
	if err != nil {
		errs = append(errs, fmt.Errorf("reading sensors: %w", err))
	}
	c.q.ProcessSensorData(uint32(config.SensorPeriod.Milliseconds()), readings)

	// Motors update slower than the sensors; the ESCs cannot follow 500 Hz.
	if millis-c.lastPidUpdateMs >= uint32(config.EscPeriod.Milliseconds()) {
		c.lastPidUpdateMs = millis
		c.q.UpdateFlyLogic()
		if err := c.q.UpdatePropellerValues(millis); err != nil {
			errs = append(errs, fmt.Errorf("updating motors: %w", err))
		}
	} else if c.leds != nil {
		if err := c.leds.Update(c.q); err != nil {
			errs = append(errs, fmt.Errorf("updating LEDs: %w", err))
		}
	}

	us := uint32(c.clock.Now().Sub(start).Microseconds())
	if us > c.highestLoopUs.Load() {
		c.highestLoopUs.Store(us)
	}
	return errors.Join(errs...)
}

// detectTimingSkew counts calls that missed a whole tick, that is calls
// more than two periods after the previous one. Ticker jitter within one
// period is not skew. The first call after start up or calibration is
// exempt.
func (c *ControlTask) detectTimingSkew(millis uint32) {
	period := uint32(config.SensorPeriod.Milliseconds())
	needed := c.lastCallMs + period + skewToleranceMs
	if c.lastCallMs != 0 && millis > needed {
		if n := c.q.IncrementTimingSkewedCount(); n <= maxSkewLogs {
			monitoring.Logf("quadcopter timing skew: last call %d ms, this call %d ms, needed %d ms",
				c.lastCallMs, millis, needed)
		}
	}
	c.lastCallMs = millis
}

func (c *ControlTask) calibrateSensors() error {
	o, err := c.sensors.Calibrate()
	if err != nil {
		return fmt.Errorf("calibrating sensors: %w", err)
	}
	monitoring.Logf("sensor offsets: accel %+v gyro %+v", o.Accel, o.Gyro)
	if c.store != nil {
		if err := c.store.SaveCalibration(o.Accel, o.Gyro); err != nil {
			return err
		}
	}
	return nil
}

// HighestLoopTimeUs is the longest run seen, in microseconds.
func (c *ControlTask) HighestLoopTimeUs() uint32 { return c.highestLoopUs.Load() }

// Stats lists the control loop counters for the terminal.
func (c *ControlTask) Stats() []flight.Var {
	return []flight.Var{
		{Name: "highest loop time us", Value: c.HighestLoopTimeUs()},
		{Name: "timing skew count", Value: c.q.TimingSkewedCount()},
	}
}
