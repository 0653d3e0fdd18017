// Package rc decodes pilot commands from an RC receiver.
//
// Pulse widths are captured on signal edges (Capture), handed to a task
// through a bounded queue and normalized into a flight.FlightCommand by a
// Decoder. Edges come from GPIO pins, pulses from a CRSF or iBus serial
// receiver.
package rc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

// Channel is an RC receiver channel.
type Channel uint8

const (
	ChannelPitch Channel = iota
	ChannelRoll
	ChannelYaw
	ChannelThrottle
	ChannelAux1
	ChannelAux2

	NumChannels = 6
)

func (c Channel) String() string {
	switch c {
	case ChannelPitch:
		return "pitch"
	case ChannelRoll:
		return "roll"
	case ChannelYaw:
		return "yaw"
	case ChannelThrottle:
		return "throttle"
	case ChannelAux1:
		return "aux1"
	case ChannelAux2:
		return "aux2"
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

// ParseChannel returns the channel named name.
func ParseChannel(name string) (Channel, error) {
	for c := Channel(0); c < NumChannels; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown RC channel %q", name)
}

// frameChannel is the first pulse of every receiver frame.
const frameChannel = ChannelPitch

// Pulse is the measured high time of one channel.
type Pulse struct {
	Channel Channel
	WidthUs uint32
}

// Timer is a free-running microsecond counter that can be restarted.
type Timer interface {
	Micros() uint32
	Reset()
}

// NewTimer returns a Timer driven by the clock.
func NewTimer(c timeutil.Clock) Timer {
	t := &clockTimer{clock: c}
	t.Reset()
	return t
}

type clockTimer struct {
	clock  timeutil.Clock
	origin atomic.Int64 // unix nanoseconds
}

func (t *clockTimer) Micros() uint32 {
	return uint32((t.clock.Now().UnixNano() - t.origin.Load()) / int64(time.Microsecond))
}

func (t *clockTimer) Reset() {
	t.origin.Store(t.clock.Now().UnixNano())
}

// Capture turns edges into pulses. Rising and Falling may be called from
// any goroutine, including edge callbacks, and never block.
type Capture struct {
	timer   Timer
	starts  [NumChannels]atomic.Uint32
	pulses  chan Pulse
	dropped atomic.Uint32
}

// NewCapture returns a capture with a queue of two frames. A receiver
// frames at 50 Hz, which leaves the decoder about 40 ms to catch up.
func NewCapture(timer Timer) *Capture {
	return &Capture{
		timer:  timer,
		pulses: make(chan Pulse, 2*NumChannels),
	}
}

// Rising records the start of a pulse. The timer restarts at the start
// of each frame so it never wraps mid-frame.
func (c *Capture) Rising(ch Channel) {
	if ch >= NumChannels {
		return
	}
	if ch == frameChannel {
		c.timer.Reset()
	}
	c.starts[ch].Store(c.timer.Micros())
}

// Falling ends the pulse started by the last Rising on ch and queues it.
func (c *Capture) Falling(ch Channel) {
	if ch >= NumChannels {
		return
	}
	stop := c.timer.Micros()
	c.Send(Pulse{Channel: ch, WidthUs: stop - c.starts[ch].Load()})
}

// Send queues a pulse without blocking. A full queue drops the pulse.
func (c *Capture) Send(p Pulse) bool {
	select {
	case c.pulses <- p:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Pulses is the queue read by the Decoder.
func (c *Capture) Pulses() <-chan Pulse { return c.pulses }

// Dropped returns how many pulses were lost to a full queue.
func (c *Capture) Dropped() uint32 { return c.dropped.Load() }
