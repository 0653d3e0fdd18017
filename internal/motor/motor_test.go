package motor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BryanSouza91/QuadFC/internal/flight"
)

type fakePWM struct {
	period int
	duty   int
	err    error
}

func (p *fakePWM) SetPeriod(ns int) error { p.period = ns; return nil }
func (p *fakePWM) SetDuty(ns int) error   { p.duty = ns; return p.err }

func TestDutyPercent(t *testing.T) {
	assert.InDelta(t, 10.52, DutyPercent(0), 1e-9)
	assert.InDelta(t, 95.0, DutyPercent(100), 1e-9)
	assert.InDelta(t, 52.76, DutyPercent(50), 1e-9)
	assert.InDelta(t, 10.52, DutyPercent(-20), 1e-9)
	assert.InDelta(t, 95.0, DutyPercent(180), 1e-9)
}

func TestQuad(t *testing.T) {
	n, s, e, w := &fakePWM{}, &fakePWM{}, &fakePWM{}, &fakePWM{}
	q, err := NewQuad(n, s, e, w)
	require.NoError(t, err)

	for _, p := range []*fakePWM{n, s, e, w} {
		assert.Equal(t, 2_000_000, p.period)
		assert.Equal(t, 210_400, p.duty)
	}

	require.NoError(t, q.Apply(flight.MotorOutputs{North: 100, South: 50, East: 0, West: 25}))
	assert.Equal(t, 1_900_000, n.duty)
	assert.Equal(t, 1_055_200, s.duty)
	assert.Equal(t, 210_400, e.duty)
	assert.Equal(t, 632_800, w.duty)

	require.NoError(t, q.Stop())
	assert.Equal(t, 210_400, n.duty)
}

func TestQuadReportsPinErrors(t *testing.T) {
	n, s, e, w := &fakePWM{}, &fakePWM{}, &fakePWM{}, &fakePWM{}
	q, err := NewQuad(n, s, e, w)
	require.NoError(t, err)

	e.err = errors.New("sysfs write failed")
	err = q.Apply(flight.MotorOutputs{North: 10})
	assert.ErrorIs(t, err, e.err)
	assert.Equal(t, 379_360, n.duty, "other pins are still driven")
}
