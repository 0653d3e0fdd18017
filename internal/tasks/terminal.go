package tasks

import (
	"context"
	"io"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/terminal"
)

// TerminalTask serves the tuning terminal on a serial port.
type TerminalTask struct {
	term *terminal.Terminal
	port io.ReadWriter
}

// NewTerminalTask serves term on port, which must return from Read
// periodically when no data arrives.
func NewTerminalTask(term *terminal.Terminal, port io.ReadWriter) *TerminalTask {
	return &TerminalTask{term: term, port: port}
}

func (t *TerminalTask) Name() string { return "terminal" }

func (t *TerminalTask) Priority() int { return config.PriorityTerminal }

func (t *TerminalTask) Period() time.Duration { return 0 }

func (t *TerminalTask) Init(context.Context) error { return nil }

func (t *TerminalTask) Run(context.Context) error { return t.term.Poll(t.port) }
