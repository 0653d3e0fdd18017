package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/pid"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/stabilizer"
	"github.com/BryanSouza91/QuadFC/internal/store"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

const sweepQueueSize = 256

// SweepStore records the samples of a PID sweep.
type SweepStore interface {
	StartSweep(axis string) (uuid.UUID, error)
	RecordSweepSample(id uuid.UUID, s store.SweepSample) error
}

// Grid is the set of gains a sweep visits.
type Grid struct {
	Kp, Ki, Kd []float64
}

// PidTuneTask steps the throttle from 0 to 50% for every gain
// combination of a grid and records how the roll loop responds.
type PidTuneTask struct {
	q     *quadcopter.Quadcopter
	store SweepStore
	clock timeutil.Clock
	grid  Grid
	dwell time.Duration
	axis  stabilizer.Axis

	trigger chan struct{}
	samples chan stabilizer.PidSample
}

func NewPidTuneTask(q *quadcopter.Quadcopter, s SweepStore, clock timeutil.Clock, grid Grid, dwell time.Duration) *PidTuneTask {
	return &PidTuneTask{
		q:       q,
		store:   s,
		clock:   clock,
		grid:    grid,
		dwell:   dwell,
		axis:    stabilizer.Roll,
		trigger: make(chan struct{}, 1),
		samples: make(chan stabilizer.PidSample, sweepQueueSize),
	}
}

// Requests is signalled to start a sweep.
func (p *PidTuneTask) Requests() chan<- struct{} { return p.trigger }

func (p *PidTuneTask) Name() string { return "pidtune" }

func (p *PidTuneTask) Priority() int { return config.PriorityPidSweep }

func (p *PidTuneTask) Period() time.Duration { return 0 }

func (p *PidTuneTask) Init(context.Context) error { return nil }

// Run waits for a request and then sweeps the grid.
func (p *PidTuneTask) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-p.trigger:
	}
	err := p.sweep(ctx)
	monitoring.Logf("***** Done PID Tune function *****")
	return err
}

func (p *PidTuneTask) sweep(ctx context.Context) error {
	id, err := p.store.StartSweep(p.axis.String())
	if err != nil {
		return err
	}
	monitoring.Logf("starting PID sweep %s on %s axis", id, p.axis)

	previous := p.q.AxisGains(p.axis)
	dropped := 0
	p.q.SetPidSink(func(s stabilizer.PidSample) {
		if s.Axis != p.axis {
			return
		}
		select {
		case p.samples <- s:
		default:
			dropped++
		}
	})
	defer func() {
		p.q.EnablePidIoLogging(0)
		p.q.SetPidSink(nil)
		p.q.SetFlightControl(flight.FlightCommand{})
		if err := p.q.SetAxisGains(p.axis, previous); err != nil {
			monitoring.Logf("error: restoring %s gains: %v", p.axis, err)
		}
		if dropped > 0 {
			monitoring.Logf("PID sweep %s dropped %d samples", id, dropped)
		}
	}()

	logMs := uint32(config.SweepLogInterval.Milliseconds())
	for _, kp := range p.grid.Kp {
		for _, ki := range p.grid.Ki {
			for _, kd := range p.grid.Kd {
				if ctx.Err() != nil {
					return nil
				}
				g := pid.Gains{Kp: kp, Ki: ki, Kd: kd}
				if err := p.cell(ctx, id, g, logMs); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *PidTuneTask) cell(ctx context.Context, id uuid.UUID, g pid.Gains, logMs uint32) error {
	p.q.SetFlightControl(flight.FlightCommand{Throttle: 0})
	monitoring.Logf("Throttle 0")
	if err := p.q.SetAxisGains(p.axis, g); err != nil {
		return fmt.Errorf("sweep cell %+v: %w", g, err)
	}
	p.q.EnablePidIoLogging(logMs)
	monitoring.Logf("Throttle %d, gains %+v", config.SweepThrottle, g)

	end := p.clock.Now().Add(p.dwell)
	for p.clock.Now().Before(end) && ctx.Err() == nil {
		// The RC decoder may overwrite the command; hold the step.
		p.q.SetFlightControl(flight.FlightCommand{Throttle: config.SweepThrottle})
		p.clock.Sleep(config.EscPeriod)
		if err := p.drain(id, g); err != nil {
			return err
		}
	}
	p.q.EnablePidIoLogging(0)
	return p.drain(id, g)
}

func (p *PidTuneTask) drain(id uuid.UUID, g pid.Gains) error {
	for {
		select {
		case s := <-p.samples:
			err := p.store.RecordSweepSample(id, store.SweepSample{
				Gains:    g,
				TimeMs:   s.TimeMs,
				Setpoint: s.Setpoint,
				Measured: s.Measured,
				Output:   s.Output,
			})
			if err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
