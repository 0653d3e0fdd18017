// Package led drives the status LEDs.
package led

import (
	"errors"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

// Pattern is what an LED shows.
type Pattern int

const (
	Off Pattern = iota
	On
	SlowFlash // 250 ms on, 250 ms off
	FastFlash // 50 ms on, 50 ms off
	Flash     // 150 ms on, 150 ms off
	Alternate // 500 ms on, 500 ms off
)

func (p Pattern) halfPeriod() time.Duration {
	switch p {
	case SlowFlash:
		return 250 * time.Millisecond
	case FastFlash:
		return 50 * time.Millisecond
	case Flash:
		return 150 * time.Millisecond
	case Alternate:
		return 500 * time.Millisecond
	}
	return 0
}

// Pin is a digital output. embd.DigitalPin satisfies it.
type Pin interface {
	Write(val int) error
}

const (
	low  = 0
	high = 1
)

// LED is one status LED.
type LED struct {
	pin        Pin
	clock      timeutil.Clock
	pattern    Pattern
	isOn       bool
	lastToggle time.Time
}

func New(pin Pin, clock timeutil.Clock) *LED {
	return &LED{pin: pin, clock: clock, lastToggle: clock.Now()}
}

// SetPattern changes the pattern. Flashing starts from the current state
// of the LED.
func (l *LED) SetPattern(p Pattern) {
	l.pattern = p
}

func (l *LED) Pattern() Pattern { return l.pattern }

// IsOn reports the level last written to the pin.
func (l *LED) IsOn() bool { return l.isOn }

// Update drives the pin for the current pattern. Call it regularly;
// flashing patterns toggle once their half period has passed.
func (l *LED) Update() error {
	switch l.pattern {
	case Off:
		return l.set(false)
	case On:
		return l.set(true)
	}
	now := l.clock.Now()
	if now.Sub(l.lastToggle) < l.pattern.halfPeriod() {
		return nil
	}
	l.lastToggle = now
	return l.set(!l.isOn)
}

func (l *LED) set(on bool) error {
	l.isOn = on
	if on {
		return l.pin.Write(high)
	}
	return l.pin.Write(low)
}

// StatusSource is the state shown on the status LEDs.
// quadcopter.Quadcopter implements it.
type StatusSource interface {
	KillSwitchEngaged() bool
	TimingSkewedCount() uint32
	RcReceiverHealthy() bool
	Armed() bool
	GpsLocked() bool
}

// Status is the bank of status LEDs. Any LED may be nil.
type Status struct {
	Error *LED // on after a timing skew, fast flash while the RC link is lost
	Armed *LED
	Gps   *LED
}

// Update sets every LED from src. All LEDs light when the kill switch is
// engaged.
func (s *Status) Update(src StatusSource) error {
	var errPattern, armPattern, gpsPattern Pattern
	if src.KillSwitchEngaged() {
		errPattern, armPattern, gpsPattern = On, On, On
	} else {
		switch {
		case !src.RcReceiverHealthy():
			errPattern = FastFlash
		case src.TimingSkewedCount() > 0:
			errPattern = On
		}
		if src.Armed() {
			armPattern = On
		}
		if src.GpsLocked() {
			gpsPattern = On
		}
	}

	var errs []error
	for _, u := range []struct {
		led *LED
		p   Pattern
	}{{s.Error, errPattern}, {s.Armed, armPattern}, {s.Gps, gpsPattern}} {
		if u.led == nil {
			continue
		}
		u.led.SetPattern(u.p)
		errs = append(errs, u.led.Update())
	}
	return errors.Join(errs...)
}
