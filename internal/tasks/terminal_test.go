package tasks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/terminal"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

type loopback struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (l *loopback) Read(b []byte) (int, error)  { return l.in.Read(b) }
func (l *loopback) Write(b []byte) (int, error) { return l.out.Write(b) }

func TestTerminalTaskDrivesQuadcopter(t *testing.T) {
	q := quadcopter.New(nil, nil)
	term := terminal.New(q, timeutil.NewMockClock(time.Unix(0, 0)))
	port := &loopback{}
	task := NewTerminalTask(term, port)

	port.in.WriteString("logger pid 100\n")
	require.NoError(t, task.Run(context.Background()))

	assert.Equal(t, uint32(100), q.PidIoLoggingInterval())
	assert.Equal(t, "Enabled PID logging every 100 ms\n", port.out.String())
	assert.Equal(t, "terminal", task.Name())
	assert.Equal(t, 8, task.Priority())
}
