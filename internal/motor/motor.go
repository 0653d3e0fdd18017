// Package motor drives the four ESCs of the quadcopter.
package motor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/xmath"
)

const (
	// ESCFrequencyHz is the PWM frequency of the ESC signal.
	ESCFrequencyHz = 500

	// The ESCs respond to duty cycles between these percentages.
	MinDutyPercent = 10.52
	MaxDutyPercent = 95.0
)

// PWM is one PWM output. embd.PWMPin satisfies it.
type PWM interface {
	SetPeriod(ns int) error
	SetDuty(ns int) error
}

// Quad drives the north, south, east and west ESCs.
type Quad struct {
	north, south, east, west PWM
	periodNs                 int
}

// NewQuad sets every pin to the ESC period and idles the motors.
func NewQuad(north, south, east, west PWM) (*Quad, error) {
	q := &Quad{
		north:    north,
		south:    south,
		east:     east,
		west:     west,
		periodNs: int(time.Second / ESCFrequencyHz),
	}
	for _, p := range q.pins() {
		if err := p.SetPeriod(q.periodNs); err != nil {
			return nil, fmt.Errorf("setting ESC period: %w", err)
		}
	}
	if err := q.Apply(flight.MotorOutputs{}); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Quad) pins() [4]PWM {
	return [4]PWM{q.north, q.south, q.east, q.west}
}

// DutyPercent maps a motor output of 0..100 % into the ESC duty window.
func DutyPercent(output float64) float64 {
	output = xmath.Constrain(output, 0, 100)
	return output*(MaxDutyPercent-MinDutyPercent)/100 + MinDutyPercent
}

// Apply implements stabilizer.MotorDriver.
func (q *Quad) Apply(o flight.MotorOutputs) error {
	outputs := [4]float64{o.North, o.South, o.East, o.West}
	var errs []error
	for i, p := range q.pins() {
		duty := int(math.Round(DutyPercent(outputs[i]) * float64(q.periodNs) / 100))
		if err := p.SetDuty(duty); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("setting ESC duty: %w", err)
	}
	return nil
}

// Stop idles every motor.
func (q *Quad) Stop() error {
	return q.Apply(flight.MotorOutputs{})
}
