package tasks

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
)

type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (l *logCapture) logf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

// count returns how many lines contain s.
func (l *logCapture) count(s string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			n++
		}
	}
	return n
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = prev })
	l := &logCapture{}
	monitoring.SetLogger(l.logf)
	return l
}

type fakeMotors struct {
	mu      sync.Mutex
	applied []flight.MotorOutputs
}

func (m *fakeMotors) Apply(o flight.MotorOutputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, o)
	return nil
}

func (m *fakeMotors) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}
