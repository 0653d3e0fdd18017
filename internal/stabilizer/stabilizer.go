// Package stabilizer drives the pitch, roll and yaw PID loops from the
// current attitude and the commanded angles, and mixes their outputs into
// the four motors of a plus-configuration quadcopter.
package stabilizer

import (
	"fmt"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/pid"
)

// Axis identifies one of the three attitude loops.
type Axis int

const (
	Pitch Axis = iota
	Roll
	Yaw
	numAxes
)

// Axes lists the attitude loops in order.
var Axes = [...]Axis{Pitch, Roll, Yaw}

func (a Axis) String() string {
	switch a {
	case Pitch:
		return "pitch"
	case Roll:
		return "roll"
	case Yaw:
		return "yaw"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// ParseAxis converts a name produced by Axis.String back to an Axis.
func ParseAxis(name string) (Axis, error) {
	for _, a := range Axes {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q", name)
}

// MotorDriver turns a set of motor percentages into motor drive signals.
type MotorDriver interface {
	Apply(flight.MotorOutputs) error
}

// AttitudeEstimator fuses one set of sensor readings into an attitude.
// loopTimeMs is the time since the previous call.
type AttitudeEstimator interface {
	Estimate(loopTimeMs uint32, r flight.SensorReadings) flight.Attitude
}

// PidSample is one line of PID input/output logging.
type PidSample struct {
	TimeMs   uint32
	Axis     Axis
	Setpoint float64
	Measured float64
	Output   float64
}

// Stabilizer owns the three attitude loops and the motor mix. It is not
// safe for concurrent use; the Quadcopter serializes access to it.
type Stabilizer struct {
	loops [numAxes]pid.Controller

	attitude flight.Attitude
	command  flight.FlightCommand
	outputs  flight.MotorOutputs
	armed    bool

	motors    MotorDriver
	estimator AttitudeEstimator

	logIntervalMs uint32
	lastLogMs     uint32
	sink          func(PidSample)
}

// New returns a disarmed stabilizer. Either collaborator may be nil, in
// which case the attitude is never updated or the outputs go nowhere.
func New(motors MotorDriver, estimator AttitudeEstimator) Stabilizer {
	s := Stabilizer{motors: motors, estimator: estimator}
	for i := range s.loops {
		s.loops[i] = *pid.New()
	}
	return s
}

// SetCommonPidParameters applies the output limits and sample time to all
// three loops.
func (s *Stabilizer) SetCommonPidParameters(min, max float64, sampleMs uint32) error {
	for i := range s.loops {
		if err := s.loops[i].SetOutputLimits(min, max); err != nil {
			return fmt.Errorf("%s loop: %w", Axis(i), err)
		}
		s.loops[i].SetSampleTime(sampleMs)
	}
	return nil
}

// SetAxisGains sets the gains of one loop.
func (s *Stabilizer) SetAxisGains(a Axis, g pid.Gains) error {
	if a < 0 || a >= numAxes {
		return fmt.Errorf("%w: %s", pid.ErrInvalidParameter, a)
	}
	if err := s.loops[a].SetParameters(g); err != nil {
		return fmt.Errorf("%s loop: %w", a, err)
	}
	return nil
}

// AxisGains returns the gains of one loop.
func (s *Stabilizer) AxisGains(a Axis) pid.Gains {
	if a < 0 || a >= numAxes {
		return pid.Gains{}
	}
	return s.loops[a].Parameters()
}

// SetArmed switches the loops on or off. The loops are seeded with the
// current attitude so arming does not cause an output spike.
func (s *Stabilizer) SetArmed(armed bool) {
	s.armed = armed

	mode := pid.Manual
	if armed {
		mode = pid.Automatic
	}
	s.loops[Pitch].SetMode(mode, s.attitude.Pitch)
	s.loops[Roll].SetMode(mode, s.attitude.Roll)
	s.loops[Yaw].SetMode(mode, s.attitude.Yaw)
}

func (s *Stabilizer) Armed() bool { return s.armed }

// ComputeAttitude runs the estimator over one set of readings.
func (s *Stabilizer) ComputeAttitude(loopTimeMs uint32, r flight.SensorReadings) {
	if s.estimator == nil {
		return
	}
	s.attitude = s.estimator.Estimate(loopTimeMs, r)
}

func (s *Stabilizer) Attitude() flight.Attitude { return s.attitude }

// SetFlightParameters sets the commanded angles and throttle.
func (s *Stabilizer) SetFlightParameters(cmd flight.FlightCommand) {
	s.command = cmd
}

func (s *Stabilizer) FlightParameters() flight.FlightCommand { return s.command }

// MotorOutputs returns the outputs saved by the last ComputeThrottle.
func (s *Stabilizer) MotorOutputs() flight.MotorOutputs { return s.outputs }

// ComputeThrottle runs the loops and saves the mixed motor outputs.
//
// A positive pitch output raises the north motor and lowers the south one;
// a positive roll output raises the west motor and lowers the east one.
// The yaw loop runs but is not mixed into the motors.
func (s *Stabilizer) ComputeThrottle(nowMs uint32) {
	cmd := s.command
	pitch := s.loops[Pitch].Compute(cmd.Pitch, s.attitude.Pitch, nowMs)
	roll := s.loops[Roll].Compute(cmd.Roll, s.attitude.Roll, nowMs)
	yaw := s.loops[Yaw].Compute(cmd.Yaw, s.attitude.Yaw, nowMs)

	s.logPidIo(nowMs, pitch, roll, yaw)

	var out flight.MotorOutputs
	if throttle := float64(cmd.Throttle); throttle != 0 {
		out = flight.MotorOutputs{
			North: throttle + pitch,
			South: throttle - pitch,
			East:  throttle - roll,
			West:  throttle + roll,
		}
	}
	out.North = max(out.North, 0)
	out.South = max(out.South, 0)
	out.East = max(out.East, 0)
	out.West = max(out.West, 0)
	s.outputs = out
}

// ApplyMotorOutputs sends the saved outputs to the motor driver, or zeros
// when disarmed.
func (s *Stabilizer) ApplyMotorOutputs() error {
	var out flight.MotorOutputs
	if s.armed {
		out = s.outputs
	}
	if s.motors == nil {
		return nil
	}
	return s.motors.Apply(out)
}

// EnablePidIoLogging logs the input and output of every loop at most once
// per intervalMs. Zero disables logging.
func (s *Stabilizer) EnablePidIoLogging(intervalMs uint32) {
	s.logIntervalMs = intervalMs
}

// PidIoLoggingInterval returns the interval set by EnablePidIoLogging.
func (s *Stabilizer) PidIoLoggingInterval() uint32 { return s.logIntervalMs }

// SetPidSink sends PID samples to sink instead of the package logger.
// A nil sink restores the logger.
func (s *Stabilizer) SetPidSink(sink func(PidSample)) {
	s.sink = sink
}

func (s *Stabilizer) logPidIo(nowMs uint32, pitch, roll, yaw float64) {
	interval := s.logIntervalMs
	if interval == 0 || nowMs-s.lastLogMs < interval {
		return
	}
	// Snap to the interval grid so a 4 ms caller with a 10 ms interval
	// logs at 12, 20, 32, 40...
	s.lastLogMs = nowMs - nowMs%interval

	samples := [numAxes]PidSample{
		{TimeMs: nowMs, Axis: Pitch, Setpoint: s.command.Pitch, Measured: s.attitude.Pitch, Output: pitch},
		{TimeMs: nowMs, Axis: Roll, Setpoint: s.command.Roll, Measured: s.attitude.Roll, Output: roll},
		{TimeMs: nowMs, Axis: Yaw, Setpoint: s.command.Yaw, Measured: s.attitude.Yaw, Output: yaw},
	}
	if s.sink != nil {
		for _, smp := range samples {
			s.sink(smp)
		}
		return
	}
	monitoring.Logf("%3.0f,%3.0f,%5.1f  %3.0f,%3.0f,%5.1f  %3.0f,%3.0f,%5.1f",
		samples[0].Setpoint, samples[0].Measured, samples[0].Output,
		samples[1].Setpoint, samples[1].Measured, samples[1].Output,
		samples[2].Setpoint, samples[2].Measured, samples[2].Output)
}

// Snapshot returns the observable state of the stabilizer.
func (s *Stabilizer) Snapshot() []flight.Var {
	vars := []flight.Var{
		{Name: "armed", Value: s.armed},
		{Name: "attitude_pitch", Value: s.attitude.Pitch},
		{Name: "attitude_roll", Value: s.attitude.Roll},
		{Name: "attitude_yaw", Value: s.attitude.Yaw},
		{Name: "cmd_pitch", Value: s.command.Pitch},
		{Name: "cmd_roll", Value: s.command.Roll},
		{Name: "cmd_yaw", Value: s.command.Yaw},
		{Name: "cmd_throttle", Value: s.command.Throttle},
		{Name: "motor_north", Value: s.outputs.North},
		{Name: "motor_south", Value: s.outputs.South},
		{Name: "motor_east", Value: s.outputs.East},
		{Name: "motor_west", Value: s.outputs.West},
	}
	for _, a := range Axes {
		vars = append(vars, s.loops[a].Snapshot(a.String())...)
	}
	return vars
}
