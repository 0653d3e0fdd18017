package rc

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
	"github.com/BryanSouza91/QuadFC/internal/xmath"
)

const (
	// MaxPulseWidthUs is the longest pulse the decoder accepts.
	MaxPulseWidthUs = 2000

	// Pulses shorter than this are the capture overhead, not a signal.
	noiseUs = 25

	// DefaultTimeout is how long the decoder waits for a pulse before it
	// declares the receiver lost.
	DefaultTimeout = time.Second

	armedThreshold = 50
	deadband       = 5
)

// Scaling factors map the receiver's pulse range onto -100..100 for the
// attitude channels and 0..100 for throttle:
//
//	value = round(scale * width / MaxPulseWidthUs) - sub
//
// They were fitted to a receiver producing 1040..1840 us on throttle.
type factors struct{ scale, sub int32 }

var channelFactors = [NumChannels]factors{
	ChannelPitch:    {525, 371},
	ChannelRoll:     {584, 432},
	ChannelYaw:      {584, 432},
	ChannelThrottle: {276, 143},
	ChannelAux1:     {525, 371},
	ChannelAux2:     {525, 371},
}

// Sink receives the decoded state. quadcopter.Quadcopter implements it.
type Sink interface {
	SetFlightControl(flight.FlightCommand)
	SetRcReceiverStatus(healthy bool)
	SetArmed(armed bool)
}

// Decoder turns queued pulses into flight commands. Step is meant to be
// called from a single task.
type Decoder struct {
	pulses  <-chan Pulse
	sink    Sink
	clock   timeutil.Clock
	timeout time.Duration

	cmd      flight.FlightCommand
	lost     bool
	armKnown bool
	armed    bool
	aux2     atomic.Int32
}

// NewDecoder returns a decoder reading pulses and reporting to sink.
func NewDecoder(pulses <-chan Pulse, sink Sink, clock timeutil.Clock) *Decoder {
	return &Decoder{
		pulses:  pulses,
		sink:    sink,
		clock:   clock,
		timeout: DefaultTimeout,
	}
}

// SetTimeout changes how long Step waits for a pulse.
func (d *Decoder) SetTimeout(t time.Duration) { d.timeout = t }

// Aux2 returns the last decoded value of the second aux channel.
func (d *Decoder) Aux2() int32 { return d.aux2.Load() }

// Run calls Step until ctx is done.
func (d *Decoder) Run(ctx context.Context) error {
	for {
		if err := d.Step(ctx); err != nil {
			return err
		}
	}
}

// Step waits for one pulse and decodes it. A timeout marks the receiver
// unhealthy and returns nil; only ctx ending returns an error.
func (d *Decoder) Step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(d.timeout):
		if !d.lost {
			d.lost = true
			monitoring.Logf("error: RC receiver failed, no pulse for %v", d.timeout)
			d.sink.SetRcReceiverStatus(false)
		}
		return nil
	case p := <-d.pulses:
		d.decode(p)
		return nil
	}
}

func (d *Decoder) decode(p Pulse) {
	width := min(p.WidthUs, MaxPulseWidthUs)
	if width < noiseUs {
		width = 0
	}

	switch p.Channel {
	case ChannelPitch:
		d.cmd.Pitch = float64(Normalize(p.Channel, width))
	case ChannelRoll:
		d.cmd.Roll = float64(Normalize(p.Channel, width))
	case ChannelYaw:
		d.cmd.Yaw = float64(Normalize(p.Channel, width))
	case ChannelThrottle:
		// Throttle is the last channel of a frame.
		d.cmd.Throttle = uint8(Normalize(p.Channel, width))
		d.lost = false
		d.sink.SetRcReceiverStatus(true)
		d.sink.SetFlightControl(d.cmd)
		d.cmd = flight.FlightCommand{}
	case ChannelAux1:
		armed := Normalize(p.Channel, width) >= armedThreshold
		if !d.armKnown || armed != d.armed {
			d.armKnown = true
			d.armed = armed
			d.sink.SetArmed(armed)
		}
	case ChannelAux2:
		d.aux2.Store(Normalize(p.Channel, width))
	default:
		monitoring.Logf("error: pulse on unknown RC %s", p.Channel)
	}
}

// Normalize converts a pulse width into a channel value. Throttle and aux
// channels yield 0..100, the attitude channels -100..100 with a dead band
// around center.
func Normalize(ch Channel, widthUs uint32) int32 {
	if ch >= NumChannels {
		return 0
	}
	f := channelFactors[ch]
	v := int32(math.Round(float64(f.scale)*float64(widthUs)/MaxPulseWidthUs)) - f.sub

	switch ch {
	case ChannelPitch, ChannelRoll, ChannelYaw:
		v = xmath.Constrain(v, -100, 100)
		if v > -deadband && v < deadband {
			v = 0
		}
	default:
		if v < deadband {
			v = 0
		}
		v = min(v, 100)
	}
	return v
}
