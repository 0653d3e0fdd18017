package tasks

import (
	"context"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

// TelemetryStore records snapshots.
type TelemetryStore interface {
	RecordTelemetry(at time.Time, vars []flight.Var) error
}

// Snapshotter produces a telemetry snapshot. *quadcopter.Quadcopter
// implements it.
type Snapshotter interface {
	Snapshot() []flight.Var
}

// TelemetryTask records a snapshot of the vehicle every second.
type TelemetryTask struct {
	src   Snapshotter
	extra []func() []flight.Var
	store TelemetryStore
	clock timeutil.Clock
}

func NewTelemetryTask(src Snapshotter, s TelemetryStore, clock timeutil.Clock) *TelemetryTask {
	return &TelemetryTask{src: src, store: s, clock: clock}
}

// AddVars appends the variables returned by f to every snapshot.
func (t *TelemetryTask) AddVars(f func() []flight.Var) {
	t.extra = append(t.extra, f)
}

func (t *TelemetryTask) Name() string { return "logger" }

func (t *TelemetryTask) Priority() int { return config.PriorityTelemetry }

func (t *TelemetryTask) Period() time.Duration { return config.TelemetryPeriod }

func (t *TelemetryTask) Init(context.Context) error { return nil }

func (t *TelemetryTask) Run(context.Context) error {
	vars := t.src.Snapshot()
	for _, f := range t.extra {
		vars = append(vars, f()...)
	}
	return t.store.RecordTelemetry(t.clock.Now(), vars)
}
