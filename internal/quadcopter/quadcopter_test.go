package quadcopter

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/pid"
	"github.com/BryanSouza91/QuadFC/internal/stabilizer"
)

type recordingMotors struct {
	mu      sync.Mutex
	applied []flight.MotorOutputs
}

func (m *recordingMotors) Apply(o flight.MotorOutputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, o)
	return nil
}

func (m *recordingMotors) last() flight.MotorOutputs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[len(m.applied)-1]
}

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = prev })
	var mu sync.Mutex
	lines := &[]string{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		*lines = append(*lines, format)
	})
	return lines
}

func TestDefaults(t *testing.T) {
	q := New(nil, nil)
	assert.Equal(t, FullManual, q.Mode())
	assert.Equal(t, OperationManual, q.OperationMode())
	assert.Equal(t, uint8(100), q.BatteryPercentage())
	assert.Equal(t, uint8(20), q.LowBatteryTriggerPercentage())
	assert.True(t, q.RcReceiverHealthy())
	assert.False(t, q.KillSwitchEngaged())
	assert.False(t, q.Armed())
}

func TestModePriority(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(q *Quadcopter)
		want    InternalMode
	}{
		{"manual", func(q *Quadcopter) {}, FullManual},
		{"kill beats everything", func(q *Quadcopter) {
			q.EngageKillSwitch()
			q.SetBatteryPercentage(5)
			q.SetRcReceiverStatus(false)
		}, KillSwitch},
		{"low battery beats lost RC", func(q *Quadcopter) {
			q.SetBatteryPercentage(10)
			q.SetRcReceiverStatus(false)
		}, LowBattery},
		{"battery at trigger is fine", func(q *Quadcopter) {
			q.SetBatteryPercentage(20)
		}, FullManual},
		{"lost RC", func(q *Quadcopter) {
			q.SetRcReceiverStatus(false)
		}, NoRcReceiver},
		{"auto without GPS hovers", func(q *Quadcopter) {
			q.SetOperationMode(OperationAuto)
		}, AutoHover},
		{"auto locked without destination hovers", func(q *Quadcopter) {
			q.SetOperationMode(OperationAuto)
			q.SetGpsStatus(true)
		}, AutoHover},
		{"auto with lock and destination follows", func(q *Quadcopter) {
			q.SetOperationMode(OperationAuto)
			q.SetGpsStatus(true)
			q.SetDestinationGpsCoordinates(flight.GpsData{Latitude: 37.3, Longitude: -121.9})
		}, AutoFollowGps},
		{"invalid operation mode", func(q *Quadcopter) {
			q.SetOperationMode(OperationInvalid)
		}, Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureLogs(t)
			q := New(nil, nil)
			tt.prepare(q)
			q.UpdateFlyLogic()
			assert.Equal(t, tt.want, q.Mode())
		})
	}
}

func TestKillSwitchIsSticky(t *testing.T) {
	captureLogs(t)
	q := New(nil, nil)
	q.EngageKillSwitch()
	q.SetArmed(true)
	q.UpdateFlyLogic()
	q.UpdateFlyLogic()

	assert.Equal(t, KillSwitch, q.Mode())
	assert.True(t, q.Armed())
}

func TestOutOfRangeBatteryValuesIgnored(t *testing.T) {
	q := New(nil, nil)
	q.SetBatteryPercentage(150)
	q.SetLowBatteryTriggerPercentage(101)
	assert.Equal(t, uint8(100), q.BatteryPercentage())
	assert.Equal(t, uint8(20), q.LowBatteryTriggerPercentage())
}

func TestTransitionsLoggedOnce(t *testing.T) {
	lines := captureLogs(t)
	q := New(nil, nil)
	q.SetBatteryPercentage(5)

	for i := 0; i < 5; i++ {
		q.UpdateFlyLogic()
	}
	require.Len(t, *lines, 1)
	assert.Contains(t, (*lines)[0], "low battery")

	q.SetBatteryPercentage(90)
	q.UpdateFlyLogic()
	q.UpdateFlyLogic()
	assert.Len(t, *lines, 2)
}

func TestInvalidModeAppliesNothing(t *testing.T) {
	lines := captureLogs(t)
	q := New(nil, nil)
	q.SetFlightControl(flight.FlightCommand{Throttle: 10})
	q.UpdateFlyLogic()

	q.SetOperationMode(OperationInvalid)
	q.SetFlightControl(flight.FlightCommand{Throttle: 80})
	q.UpdateFlyLogic()
	q.UpdateFlyLogic()

	errors := 0
	for _, l := range *lines {
		if strings.HasPrefix(l, "error") {
			errors++
		}
	}
	assert.Equal(t, 1, errors)

	var throttle any
	for _, v := range q.Snapshot() {
		if v.Name == "cmd_throttle" {
			throttle = v.Value
		}
	}
	assert.Equal(t, uint8(10), throttle)
}

func TestCommandArbiter(t *testing.T) {
	captureLogs(t)
	q := New(nil, nil)
	var seen []InternalMode
	q.SetCommandArbiter(func(m InternalMode, req flight.FlightCommand) flight.FlightCommand {
		seen = append(seen, m)
		if m == NoRcReceiver {
			return flight.FlightCommand{Throttle: 30}
		}
		return req
	})

	q.SetFlightControl(flight.FlightCommand{Pitch: 4, Throttle: 60})
	q.UpdateFlyLogic()
	q.SetRcReceiverStatus(false)
	q.UpdateFlyLogic()

	assert.Equal(t, []InternalMode{FullManual, NoRcReceiver}, seen)
}

func TestPassThrough(t *testing.T) {
	cmd := flight.FlightCommand{Pitch: 1, Roll: 2, Yaw: 3, Throttle: 4}
	assert.Equal(t, cmd, PassThrough(LowBattery, cmd))
}

func TestFlightCycleDrivesMotors(t *testing.T) {
	captureLogs(t)
	m := &recordingMotors{}
	q := New(m, nil)
	require.NoError(t, q.SetCommonPidParameters(-50, 50, 10))
	require.NoError(t, q.SetAxisGains(stabilizer.Pitch, pid.Gains{Kp: 1}))

	q.SetFlightControl(flight.FlightCommand{Pitch: 10, Throttle: 40})
	q.UpdateFlyLogic()
	require.NoError(t, q.UpdatePropellerValues(10))
	assert.Equal(t, flight.MotorOutputs{}, m.last(), "disarmed")

	q.SetArmed(true)
	require.NoError(t, q.UpdatePropellerValues(20))
	assert.Equal(t, flight.MotorOutputs{North: 50, South: 30, East: 40, West: 40}, m.last())
}

func TestTimingSkewCounter(t *testing.T) {
	q := New(nil, nil)
	assert.Equal(t, uint32(1), q.IncrementTimingSkewedCount())
	assert.Equal(t, uint32(2), q.IncrementTimingSkewedCount())
	q.ResetTimingSkewedCount()
	assert.Zero(t, q.TimingSkewedCount())
}

func TestSnapshot(t *testing.T) {
	q := New(nil, nil)
	q.SetGpsStatus(true)
	q.SetCurrentGpsCoordinates(flight.GpsData{Latitude: 1, Longitude: 2, AltMeters: 3})

	got := map[string]any{}
	for _, v := range q.Snapshot() {
		got[v.Name] = v.Value
	}
	want := map[string]any{
		"mode":            "full-manual",
		"gps_locked":      true,
		"gps_lat":         1.0,
		"gps_lon":         2.0,
		"gps_alt":         3.0,
		"battery_percent": uint8(100),
		"pitch_mode":      "manual",
	}
	for k, v := range want {
		if diff := cmp.Diff(v, got[k]); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", k, diff)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	captureLogs(t)
	q := New(&recordingMotors{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				q.SetBatteryPercentage(uint8(n))
				q.SetFlightControl(flight.FlightCommand{Throttle: uint8(n)})
				q.UpdateFlyLogic()
				_ = q.UpdatePropellerValues(uint32(n))
				_ = q.Snapshot()
			}
		}(i)
	}
	wg.Wait()
}

func TestToggleArmed(t *testing.T) {
	q := New(nil, nil)
	assert.True(t, q.ToggleArmed())
	assert.True(t, q.Armed())
	assert.False(t, q.ToggleArmed())
	assert.False(t, q.Armed())
}

func TestToggleArmedIsAtomic(t *testing.T) {
	q := New(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 250; n++ {
				q.ToggleArmed()
			}
		}()
	}
	wg.Wait()
	assert.False(t, q.Armed(), "an even number of toggles leaves the motors disarmed")
}
