package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/rc"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

func TestRcRemoteTaskDecodes(t *testing.T) {
	captureLogs(t)
	q := quadcopter.New(nil, nil)
	clk := timeutil.NewMockClock(time.Unix(0, 0))
	capture := rc.NewCapture(rc.NewTimer(clk))
	task := NewRcRemoteTask(rc.NewDecoder(capture.Pulses(), q, clk))

	require.True(t, capture.Send(rc.Pulse{Channel: rc.ChannelAux1, WidthUs: 1840}))
	require.True(t, capture.Send(rc.Pulse{Channel: rc.ChannelThrottle, WidthUs: 1840}))
	require.NoError(t, task.Run(context.Background()))
	require.NoError(t, task.Run(context.Background()))

	assert.True(t, q.Armed())
	assert.Equal(t, uint8(100), q.FlightControl().Throttle)
	assert.Equal(t, 6, task.Priority())
	assert.Zero(t, task.Period())
}
