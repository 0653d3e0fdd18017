// Package scheduler runs the flight controller tasks.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

// ErrorBackoff is the pause after a failed run of a back to back task.
const ErrorBackoff = 100 * time.Millisecond

// Task is a unit of work run by the Scheduler.
type Task interface {
	Name() string
	// Priority orders start up; higher starts first.
	Priority() int
	// Period is the interval between runs. Zero runs the task back to
	// back, so Run must block with a bounded timeout.
	Period() time.Duration
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

// Scheduler starts tasks and keeps them running until the context ends.
type Scheduler struct {
	clock timeutil.Clock
	tasks []Task
	wg    sync.WaitGroup
}

func New(clock timeutil.Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

// Start initializes every task in descending priority order and then
// runs each in its own goroutine. An Init error stops start up and is
// returned; no task has been started in that case.
func (s *Scheduler) Start(ctx context.Context) error {
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return s.tasks[i].Priority() > s.tasks[j].Priority()
	})
	for _, t := range s.tasks {
		if err := t.Init(ctx); err != nil {
			return fmt.Errorf("initializing task %s: %w", t.Name(), err)
		}
	}
	for i, t := range s.tasks {
		var ticker timeutil.Ticker
		if t.Period() > 0 {
			ticker = s.clock.NewTicker(t.Period())
		}
		monitoring.Logf("starting task %s (priority %d, period %v)", t.Name(), t.Priority(), t.Period())
		s.wg.Add(1)
		go s.run(ctx, t, ticker, i == 0)
	}
	return nil
}

// Wait blocks until every task has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, t Task, ticker timeutil.Ticker, pinned bool) {
	defer s.wg.Done()
	if pinned {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	errLog := &monitoring.RateLimited{Every: 100}
	runOnce := func() error {
		err := t.Run(ctx)
		if err != nil && ctx.Err() == nil {
			errLog.Logf("task %s: %v", t.Name(), err)
		}
		return err
	}

	if ticker == nil {
		for ctx.Err() == nil {
			if err := runOnce(); err != nil && ctx.Err() == nil {
				s.clock.Sleep(ErrorBackoff)
			}
		}
		return
	}
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			_ = runOnce()
		}
	}
}
