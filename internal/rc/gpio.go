package rc

import (
	"errors"
	"fmt"

	"github.com/kidoman/embd"
)

// WatchPins drives the capture from receiver PWM outputs wired to GPIO
// pins. Each pin is watched on both edges; a high level starts a pulse
// and a low level ends it. The returned function stops watching.
func WatchPins(c *Capture, pins map[Channel]embd.DigitalPin) (stop func() error, err error) {
	var watched []embd.DigitalPin
	stop = func() error {
		var errs []error
		for _, p := range watched {
			errs = append(errs, p.StopWatching())
		}
		return errors.Join(errs...)
	}

	for ch, pin := range pins {
		if err := pin.SetDirection(embd.In); err != nil {
			_ = stop()
			return nil, fmt.Errorf("rc %s pin: %w", ch, err)
		}
		if err := pin.Watch(embd.EdgeBoth, edgeHandler(c, ch)); err != nil {
			_ = stop()
			return nil, fmt.Errorf("rc %s pin: %w", ch, err)
		}
		watched = append(watched, pin)
	}
	return stop, nil
}

func edgeHandler(c *Capture, ch Channel) func(embd.DigitalPin) {
	return func(p embd.DigitalPin) {
		v, err := p.Read()
		if err != nil {
			return
		}
		if v == embd.High {
			c.Rising(ch)
		} else {
			c.Falling(ch)
		}
	}
}
