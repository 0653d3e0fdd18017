// Package pid implements the PID feedback controller used by every flight
// axis. Gains are given in per-second units and rescaled internally to the
// sample period, so changing the loop rate does not change the response.
//
// Tuning procedure:
//   - Start with Kp = Ki = Kd = 0.
//   - Raise Kp until the output overshoots and rings.
//   - Raise Kd until the overshoot is acceptable.
//   - Raise Ki until the steady state error is gone.
package pid

import (
	"errors"
	"fmt"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/xmath"
)

// ErrInvalidParameter is returned when a setter rejects its arguments.
// The previous configuration is kept.
var ErrInvalidParameter = errors.New("pid: invalid parameter")

// Mode selects whether Compute runs the control law.
type Mode int

const (
	Manual Mode = iota
	Automatic
)

func (m Mode) String() string {
	if m == Automatic {
		return "automatic"
	}
	return "manual"
}

// Direction tells the controller whether a positive output raises
// (Positive) or lowers (Negative) the measured value.
type Direction int

const (
	Positive Direction = iota
	Negative
)

// Gains are the proportional, integral and derivative gains in
// per-second units.
type Gains struct {
	Kp, Ki, Kd float64
}

// Controller holds the state of one PID loop. It is not safe for
// concurrent use; each loop has a single owner.
type Controller struct {
	gains Gains // as supplied by the user
	kp    float64
	ki    float64 // scaled by the sample period
	kd    float64 // scaled by the inverse sample period

	output     float64
	setpoint   float64
	lastError  float64
	integral   float64
	lastInput  float64
	lastTimeMs uint32

	sampleTimeMs         uint32
	outputMin, outputMax float64

	mode      Mode
	direction Direction
}

// New creates a controller in manual mode with a 1 s sample time,
// zero gains and [0, 0] output limits.
func New() *Controller {
	return &Controller{sampleTimeMs: 1000}
}

// Compute runs one step of the control law and returns the output.
//
// In manual mode the last output is returned unchanged. In automatic mode
// the loop only runs once at least one sample period has elapsed since the
// previous step; calling more often returns the cached output.
func (c *Controller) Compute(setpoint, input float64, nowMs uint32) float64 {
	if c.mode != Automatic {
		return c.output
	}

	// Signed difference so a wrapped millisecond counter still works and a
	// timestamp from the past is treated as "not yet".
	if int32(nowMs-c.lastTimeMs) < int32(c.sampleTimeMs) {
		return c.output
	}

	c.setpoint = setpoint
	err := setpoint - input
	c.lastError = err

	c.integral = xmath.Constrain(c.integral+c.ki*err, c.outputMin, c.outputMax)

	// Derivative on measurement avoids a kick when the setpoint jumps.
	dInput := input - c.lastInput

	c.output = xmath.Constrain(c.kp*err+c.integral-c.kd*dInput, c.outputMin, c.outputMax)

	c.lastInput = input
	c.lastTimeMs = nowMs
	return c.output
}

// SetParameters sets the gains. Negative gains are rejected.
func (c *Controller) SetParameters(g Gains) error {
	if g.Kp < 0 || g.Ki < 0 || g.Kd < 0 {
		return fmt.Errorf("%w: negative gain %+v", ErrInvalidParameter, g)
	}

	sampleTimeSec := float64(c.sampleTimeMs) / 1000
	c.gains = g
	c.kp = g.Kp
	c.ki = g.Ki * sampleTimeSec
	c.kd = g.Kd / sampleTimeSec

	if c.direction == Negative {
		c.kp, c.ki, c.kd = -c.kp, -c.ki, -c.kd
	}
	return nil
}

// Parameters returns the gains last accepted by SetParameters.
func (c *Controller) Parameters() Gains {
	return c.gains
}

// SetSampleTime changes the control period and rescales the stored
// integral and derivative gains so the per-second response is preserved.
// Zero is ignored.
func (c *Controller) SetSampleTime(ms uint32) {
	if ms == 0 {
		return
	}
	ratio := float64(ms) / float64(c.sampleTimeMs)
	c.ki *= ratio
	c.kd /= ratio
	c.sampleTimeMs = ms
}

// SampleTime returns the control period in milliseconds.
func (c *Controller) SampleTime() uint32 { return c.sampleTimeMs }

// SetOutputLimits sets the output range and clamps the current output and
// integral term into it straight away.
func (c *Controller) SetOutputLimits(min, max float64) error {
	if min > max {
		return fmt.Errorf("%w: output limits min %v > max %v", ErrInvalidParameter, min, max)
	}
	c.outputMin = min
	c.outputMax = max
	c.output = xmath.Constrain(c.output, min, max)
	c.integral = xmath.Constrain(c.integral, min, max)
	return nil
}

// OutputLimits returns the output range.
func (c *Controller) OutputLimits() (min, max float64) {
	return c.outputMin, c.outputMax
}

// SetMode turns the loop on or off. Going from manual to automatic seeds
// the integral term with the last output and the last input with
// latestInput, so the next Compute continues from the current output.
func (c *Controller) SetMode(mode Mode, latestInput float64) {
	if mode == Automatic && c.mode != Automatic {
		c.initialize(latestInput)
	}
	c.mode = mode
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) initialize(latestInput float64) {
	c.lastInput = latestInput
	c.integral = xmath.Constrain(c.output, c.outputMin, c.outputMax)
}

// SetDirection sets the controller direction. It takes effect on the
// next SetParameters call.
func (c *Controller) SetDirection(d Direction) {
	c.direction = d
}

// LastOutput returns the output of the last computed step.
func (c *Controller) LastOutput() float64 { return c.output }

// Setpoint returns the setpoint of the last computed step.
func (c *Controller) Setpoint() float64 { return c.setpoint }

// Snapshot returns the observable state of the loop, each name prefixed
// with prefix.
func (c *Controller) Snapshot(prefix string) []flight.Var {
	return []flight.Var{
		{Name: prefix + "_kp", Value: c.gains.Kp},
		{Name: prefix + "_ki", Value: c.gains.Ki},
		{Name: prefix + "_kd", Value: c.gains.Kd},
		{Name: prefix + "_setpoint", Value: c.setpoint},
		{Name: prefix + "_error", Value: c.lastError},
		{Name: prefix + "_integral", Value: c.integral},
		{Name: prefix + "_last_input", Value: c.lastInput},
		{Name: prefix + "_output", Value: c.output},
		{Name: prefix + "_mode", Value: c.mode.String()},
	}
}
