package terminal

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/pid"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/stabilizer"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

type fakeVehicle struct {
	gains       map[stabilizer.Axis]pid.Gains
	intervalMs  uint32
	mode        quadcopter.OperationMode
	destination *flight.GpsData
	trigger     uint8
}

func newFakeVehicle() *fakeVehicle {
	return &fakeVehicle{gains: map[stabilizer.Axis]pid.Gains{}}
}

func (v *fakeVehicle) AxisGains(a stabilizer.Axis) pid.Gains { return v.gains[a] }

func (v *fakeVehicle) SetAxisGains(a stabilizer.Axis, g pid.Gains) error {
	if g.Kp < 0 || g.Ki < 0 || g.Kd < 0 {
		return pid.ErrInvalidParameter
	}
	v.gains[a] = g
	return nil
}

func (v *fakeVehicle) EnablePidIoLogging(ms uint32)                  { v.intervalMs = ms }
func (v *fakeVehicle) PidIoLoggingInterval() uint32                  { return v.intervalMs }
func (v *fakeVehicle) SetOperationMode(m quadcopter.OperationMode)   { v.mode = m }
func (v *fakeVehicle) SetDestinationGpsCoordinates(d flight.GpsData) { v.destination = &d }
func (v *fakeVehicle) SetLowBatteryTriggerPercentage(p uint8)        { v.trigger = p }
func (v *fakeVehicle) LowBatteryTriggerPercentage() uint8            { return v.trigger }

type fakeStore struct {
	saved   map[string]pid.Gains
	trigger []uint8
}

func (s *fakeStore) SaveGains(axis string, g pid.Gains) error {
	s.saved[axis] = g
	return nil
}

func (s *fakeStore) SaveLowBatteryTrigger(p uint8) error {
	s.trigger = append(s.trigger, p)
	return nil
}

func newTerminal() (*Terminal, *fakeVehicle, *timeutil.MockClock) {
	v := newFakeVehicle()
	clk := timeutil.NewMockClock(time.Unix(0, 0))
	return New(v, clk), v, clk
}

func run(t *testing.T, term *Terminal, line string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, term.Execute(&out, line))
	return out.String()
}

func TestPidGet(t *testing.T) {
	term, v, _ := newTerminal()
	v.gains[stabilizer.Pitch] = pid.Gains{Kp: 1, Ki: 0.5}
	v.gains[stabilizer.Yaw] = pid.Gains{Kd: 2}

	out := run(t, term, "pid get")
	assert.Equal(t, "Pitch Axis: 1.000000(kp) 0.500000(ki) 0.000000(kd)\n"+
		" Roll Axis: 0.000000(kp) 0.000000(ki) 0.000000(kd)\n"+
		"  Yaw Axis: 0.000000(kp) 0.000000(ki) 2.000000(kd)\n", out)
}

func TestPidSet(t *testing.T) {
	term, v, _ := newTerminal()
	store := &fakeStore{saved: map[string]pid.Gains{}}
	term.SetStore(store)

	out := run(t, term, "pid roll 1 0.5 0")
	assert.Equal(t, "Set Roll PID parameters to: 1.000000(kp) 0.500000(ki) 0.000000(kd)\n", out)
	assert.Equal(t, pid.Gains{Kp: 1, Ki: 0.5}, v.gains[stabilizer.Roll])
	assert.Equal(t, pid.Gains{Kp: 1, Ki: 0.5}, store.saved["roll"])
}

func TestPidSetErrors(t *testing.T) {
	term, v, _ := newTerminal()

	assert.Equal(t, "ERROR: Need 3 parameters for <kp> <ki> <kd>\n", run(t, term, "pid pitch 1 2"))
	assert.Equal(t, "ERROR: Need 3 parameters for <kp> <ki> <kd>\n", run(t, term, "pid pitch 1 two 3"))
	assert.Contains(t, run(t, term, "pid thrust 1 2 3"), `unknown axis "thrust"`)
	assert.Contains(t, run(t, term, "pid yaw -1 0 0"), "ERROR")
	assert.Empty(t, v.gains)
}

func TestLoggerPid(t *testing.T) {
	term, v, _ := newTerminal()

	assert.Equal(t, "Enabled PID logging every 100 ms\n", run(t, term, "logger pid 100"))
	assert.Equal(t, uint32(100), v.intervalMs)

	assert.Equal(t, "Enabled PID logging every 10 ms\n", run(t, term, "logger pid 3"))
	assert.Equal(t, uint32(10), v.intervalMs)

	assert.Equal(t, "Disabled PID logging every 0 ms\n", run(t, term, "logger pid 0"))
	assert.Equal(t, uint32(0), v.intervalMs)

	assert.Contains(t, run(t, term, "logger pid soon"), "invalid interval")
}

func TestLoggerStatus(t *testing.T) {
	term, v, _ := newTerminal()
	v.intervalMs = 50
	term.SetLoggerStats(func() []flight.Var {
		return []flight.Var{{Name: "timing_skewed", Value: uint32(2)}}
	})

	out := run(t, term, "logger status")
	assert.Equal(t, "    PID logging interval : 50 ms\n"+
		"           timing_skewed : 2\n", out)
}

func TestCalibrateWaitsThenSignals(t *testing.T) {
	term, _, clk := newTerminal()
	ch := make(chan struct{}, 1)
	term.SetCalibrationRequests(ch)

	out := run(t, term, "calibrate")
	assert.Equal(t, "MAKE SURE THE QUADCOPTER IS AT FULL REST!\n", out)
	assert.Equal(t, []time.Duration{CalibrationSettle}, clk.Sleeps())
	assert.Len(t, ch, 1)

	// a pending request absorbs the second one
	run(t, term, "calibrate")
	assert.Len(t, ch, 1)
}

func TestTune(t *testing.T) {
	term, _, _ := newTerminal()
	assert.Contains(t, run(t, term, "tune"), "ERROR: tune is not available")

	ch := make(chan struct{}, 1)
	term.SetTuneRequests(ch)
	run(t, term, "tune")
	assert.Len(t, ch, 1)
}

func TestMode(t *testing.T) {
	term, v, _ := newTerminal()

	assert.Equal(t, "Operation mode set to auto\n", run(t, term, "mode auto"))
	assert.Equal(t, quadcopter.OperationAuto, v.mode)
	assert.Equal(t, "Operation mode set to manual\n", run(t, term, "MODE Manual"))
	assert.Equal(t, quadcopter.OperationManual, v.mode)

	for _, line := range []string{"mode", "mode invalid", "mode auto now"} {
		assert.Contains(t, run(t, term, line), "ERROR", line)
	}
	assert.Equal(t, quadcopter.OperationManual, v.mode)
}

func TestDest(t *testing.T) {
	term, v, _ := newTerminal()

	assert.Equal(t, "Destination set to 48.117300, -11.516667\n", run(t, term, "dest 48.1173 -11.516667"))
	require.NotNil(t, v.destination)
	assert.Equal(t, flight.GpsData{Latitude: 48.1173, Longitude: -11.516667}, *v.destination)

	v.destination = nil
	for _, line := range []string{"dest", "dest 48", "dest north 11", "dest 91 0", "dest 0 181"} {
		assert.Equal(t, "ERROR: Need <lat> <lon> in decimal degrees\n", run(t, term, line), line)
	}
	assert.Nil(t, v.destination)
}

func TestBatteryTrigger(t *testing.T) {
	term, v, _ := newTerminal()
	store := &fakeStore{saved: map[string]pid.Gains{}}
	term.SetStore(store)
	v.trigger = 20

	assert.Equal(t, "Low battery trigger: 20 %\n", run(t, term, "battery trigger"))
	assert.Empty(t, store.trigger)

	assert.Equal(t, "Low battery trigger: 35 %\n", run(t, term, "battery trigger 35"))
	assert.Equal(t, uint8(35), v.trigger)
	assert.Equal(t, []uint8{35}, store.trigger)

	assert.Contains(t, run(t, term, "battery trigger 101"), `invalid percentage "101"`)
	assert.Contains(t, run(t, term, "battery trigger -1"), "invalid percentage")
	assert.Contains(t, run(t, term, "battery"), "ERROR")
	assert.Equal(t, uint8(35), v.trigger)
	assert.Equal(t, []uint8{35}, store.trigger)
}

func TestHelp(t *testing.T) {
	term, _, _ := newTerminal()
	assert.Equal(t, help, run(t, term, ""))
	assert.Equal(t, help, run(t, term, "HELP"))
	assert.Contains(t, run(t, term, "fly"), `unknown command "fly"`)
	assert.Contains(t, run(t, term, `pid "get`), "ERROR")
}

type fakePort struct {
	in  *strings.Reader
	out bytes.Buffer
	err error
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.in.Len() == 0 && p.err != nil {
		return 0, p.err
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestPollSplitsLines(t *testing.T) {
	term, v, _ := newTerminal()
	port := &fakePort{in: strings.NewReader("logger pid 20\r\npid roll 1 2 3\n")}

	for port.in.Len() > 0 {
		require.NoError(t, term.Poll(port))
	}
	assert.Equal(t, uint32(20), v.intervalMs)
	assert.Equal(t, pid.Gains{Kp: 1, Ki: 2, Kd: 3}, v.gains[stabilizer.Roll])
	assert.NotContains(t, port.out.String(), "calibrate", "CRLF must not run help")
}

func TestPollPartialLine(t *testing.T) {
	term, v, _ := newTerminal()
	port := &fakePort{in: strings.NewReader("logger pid ")}
	require.NoError(t, term.Poll(port))
	assert.Zero(t, v.intervalMs)

	port.in = strings.NewReader("40\n")
	require.NoError(t, term.Poll(port))
	assert.Equal(t, uint32(40), v.intervalMs)
}

func TestPollReadError(t *testing.T) {
	term, _, _ := newTerminal()
	port := &fakePort{in: strings.NewReader(""), err: errors.New("port closed")}
	err := term.Poll(port)
	assert.ErrorIs(t, err, port.err)

	port.err = io.EOF
	assert.NoError(t, term.Poll(port))
}
