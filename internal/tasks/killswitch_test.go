package tasks

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
)

type fakeButton struct {
	levels []int
	err    error
}

func (b *fakeButton) Read() (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	v := b.levels[0]
	if len(b.levels) > 1 {
		b.levels = b.levels[1:]
	}
	return v, nil
}

func TestKillSwitchWirelessCommands(t *testing.T) {
	logs := captureLogs(t)
	q := quadcopter.New(nil, nil)
	link := &bytes.Buffer{}
	task := NewKillSwitchTask(q, link)

	link.WriteByte(WirelessArm)
	require.NoError(t, task.Run(context.Background()))
	assert.True(t, q.Armed())

	link.WriteByte(WirelessDisarm)
	require.NoError(t, task.Run(context.Background()))
	assert.False(t, q.Armed())

	// nothing received
	require.NoError(t, task.Run(context.Background()))
	assert.False(t, q.KillSwitchEngaged())

	link.WriteByte(WirelessKill)
	require.NoError(t, task.Run(context.Background()))
	assert.True(t, q.KillSwitchEngaged())
	assert.Zero(t, logs.count("unknown wireless command"))
}

func TestKillSwitchUnknownCommandKills(t *testing.T) {
	logs := captureLogs(t)
	q := quadcopter.New(nil, nil)
	task := NewKillSwitchTask(q, bytes.NewReader([]byte{0x7f}))

	require.NoError(t, task.Run(context.Background()))
	assert.True(t, q.KillSwitchEngaged())
	assert.Equal(t, 1, logs.count("unknown wireless command 127"))
}

func TestKillSwitchButtons(t *testing.T) {
	captureLogs(t)
	q := quadcopter.New(nil, nil)
	task := NewKillSwitchTask(q, &bytes.Buffer{})
	kill := &fakeButton{levels: []int{0}}
	arm := &fakeButton{levels: []int{1, 1, 0, 1}}
	task.SetButtons(kill, arm)

	var armed []bool
	for i := 0; i < 4; i++ {
		require.NoError(t, task.Run(context.Background()))
		armed = append(armed, q.Armed())
	}
	assert.Equal(t, []bool{true, true, true, false}, armed, "arm toggles on press only")
	assert.False(t, q.KillSwitchEngaged())

	kill.levels = []int{1}
	require.NoError(t, task.Run(context.Background()))
	assert.True(t, q.KillSwitchEngaged())
}

func TestKillSwitchReadErrors(t *testing.T) {
	q := quadcopter.New(nil, nil)
	broken := errors.New("gpio unexported")
	task := NewKillSwitchTask(q, &bytes.Buffer{})
	task.SetButtons(&fakeButton{err: broken}, nil)

	assert.ErrorIs(t, task.Run(context.Background()), broken)
	assert.False(t, q.KillSwitchEngaged())
}
