// Package quadcopter holds the state shared between the flight tasks and
// decides, once per control cycle, which command source is in charge.
package quadcopter

import (
	"sync"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/pid"
	"github.com/BryanSouza91/QuadFC/internal/stabilizer"
)

// OperationMode is the mode requested by the pilot.
type OperationMode int

const (
	OperationInvalid OperationMode = iota
	OperationAuto
	OperationManual
)

func (m OperationMode) String() string {
	switch m {
	case OperationAuto:
		return "auto"
	case OperationManual:
		return "manual"
	}
	return "invalid"
}

// InternalMode is the mode the flight logic settled on after applying the
// safety overrides.
type InternalMode int

const (
	Invalid InternalMode = iota
	KillSwitch
	LowBattery
	NoRcReceiver
	AutoHover
	AutoFollowGps
	FullManual
)

func (m InternalMode) String() string {
	switch m {
	case KillSwitch:
		return "kill-switch"
	case LowBattery:
		return "low-battery"
	case NoRcReceiver:
		return "no-rc-receiver"
	case AutoHover:
		return "auto-hover"
	case AutoFollowGps:
		return "auto-follow-gps"
	case FullManual:
		return "full-manual"
	}
	return "invalid"
}

// CommandArbiter picks the command handed to the stabilizer in a given
// mode. requested is the last command from the pilot.
type CommandArbiter func(mode InternalMode, requested flight.FlightCommand) flight.FlightCommand

// PassThrough hands the pilot's command through unchanged in every mode.
func PassThrough(_ InternalMode, requested flight.FlightCommand) flight.FlightCommand {
	return requested
}

const defaultLowBatteryTrigger = 20

// Quadcopter is the owner object shared by all tasks. Every method takes
// the same lock, so each may be called from any goroutine. Inputs have a
// single writer each, named on the setter.
type Quadcopter struct {
	mu sync.Mutex

	stab    stabilizer.Stabilizer
	arbiter CommandArbiter

	operationMode OperationMode
	mode          InternalMode

	batteryPercent    uint8
	lowBatteryTrigger uint8
	rcHealthy         bool
	killSwitch        bool

	gpsLocked      bool
	currentGps     flight.GpsData
	destinationGps flight.GpsData
	destinationSet bool
	distanceM      float64
	bearingDeg     float64

	requested    flight.FlightCommand
	timingSkewed uint32
}

// New creates a quadcopter in manual operation with a full battery and a
// healthy RC link. The stabilizer starts disarmed.
func New(motors stabilizer.MotorDriver, estimator stabilizer.AttitudeEstimator) *Quadcopter {
	return &Quadcopter{
		stab:              stabilizer.New(motors, estimator),
		arbiter:           PassThrough,
		operationMode:     OperationManual,
		mode:              FullManual,
		batteryPercent:    100,
		lowBatteryTrigger: defaultLowBatteryTrigger,
		rcHealthy:         true,
	}
}

// SetCommandArbiter replaces the arbiter. nil restores PassThrough.
func (q *Quadcopter) SetCommandArbiter(a CommandArbiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if a == nil {
		a = PassThrough
	}
	q.arbiter = a
}

// UpdateFlyLogic settles the internal mode from the current inputs and
// hands the arbitrated command to the stabilizer. Called by the control
// task.
func (q *Quadcopter) UpdateFlyLogic() {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.nextMode()
	if next != q.mode {
		q.logEntry(next)
		q.mode = next
	}

	if q.mode == Invalid {
		return
	}
	q.stab.SetFlightParameters(q.arbiter(q.mode, q.requested))
}

func (q *Quadcopter) nextMode() InternalMode {
	switch {
	case q.killSwitch:
		return KillSwitch
	case q.batteryPercent < q.lowBatteryTrigger:
		return LowBattery
	case !q.rcHealthy:
		return NoRcReceiver
	}
	switch q.operationMode {
	case OperationAuto:
		if q.gpsLocked && q.destinationSet {
			return AutoFollowGps
		}
		return AutoHover
	case OperationManual:
		return FullManual
	}
	return Invalid
}

func (q *Quadcopter) logEntry(m InternalMode) {
	switch m {
	case KillSwitch:
		monitoring.Logf("kill switch activated")
	case LowBattery:
		monitoring.Logf("low battery detected - %d/%d %%", q.batteryPercent, q.lowBatteryTrigger)
	case NoRcReceiver:
		monitoring.Logf("RC receiver lost")
	case Invalid:
		monitoring.Logf("error: quadcopter is in invalid mode (operation mode %s)", q.operationMode)
	default:
		monitoring.Logf("flight mode %s", m)
	}
}

// ProcessSensorData updates the attitude. Called by the control task.
func (q *Quadcopter) ProcessSensorData(loopTimeMs uint32, r flight.SensorReadings) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stab.ComputeAttitude(loopTimeMs, r)
}

// UpdatePropellerValues runs the attitude loops and drives the motors.
// Called by the control task.
func (q *Quadcopter) UpdatePropellerValues(nowMs uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stab.ComputeThrottle(nowMs)
	return q.stab.ApplyMotorOutputs()
}

// Mode returns the internal mode chosen by the last UpdateFlyLogic.
func (q *Quadcopter) Mode() InternalMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}

// SetArmed arms or disarms the motors. Written by the kill-switch task and
// the RC decoder. Arming does not clear the kill switch.
func (q *Quadcopter) SetArmed(armed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stab.SetArmed(armed)
}

// ToggleArmed flips the arm state and returns the new state.
func (q *Quadcopter) ToggleArmed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	armed := !q.stab.Armed()
	q.stab.SetArmed(armed)
	return armed
}

func (q *Quadcopter) Armed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stab.Armed()
}

// EngageKillSwitch latches the kill switch. There is no way to release it
// short of a restart. Written by the kill-switch task.
func (q *Quadcopter) EngageKillSwitch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.killSwitch = true
}

func (q *Quadcopter) KillSwitchEngaged() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.killSwitch
}

// SetBatteryPercentage is written by the battery task. Values above 100
// are ignored.
func (q *Quadcopter) SetBatteryPercentage(p uint8) {
	if p > 100 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batteryPercent = p
}

func (q *Quadcopter) BatteryPercentage() uint8 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.batteryPercent
}

// SetLowBatteryTriggerPercentage is written at startup and by the
// terminal. Values above 100 are ignored.
func (q *Quadcopter) SetLowBatteryTriggerPercentage(p uint8) {
	if p > 100 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lowBatteryTrigger = p
}

func (q *Quadcopter) LowBatteryTriggerPercentage() uint8 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lowBatteryTrigger
}

// SetRcReceiverStatus is written by the RC decoder.
func (q *Quadcopter) SetRcReceiverStatus(healthy bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rcHealthy = healthy
}

func (q *Quadcopter) RcReceiverHealthy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rcHealthy
}

// SetGpsStatus is written by the GPS task.
func (q *Quadcopter) SetGpsStatus(locked bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gpsLocked = locked
}

func (q *Quadcopter) GpsLocked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gpsLocked
}

// SetCurrentGpsCoordinates is written by the GPS task.
func (q *Quadcopter) SetCurrentGpsCoordinates(d flight.GpsData) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.currentGps = d
}

func (q *Quadcopter) CurrentGpsCoordinates() flight.GpsData {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentGps
}

// SetDestinationGpsCoordinates is written by the terminal.
func (q *Quadcopter) SetDestinationGpsCoordinates(d flight.GpsData) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.destinationGps = d
	q.destinationSet = true
}

// DestinationGpsCoordinates returns the destination and whether one has
// been set.
func (q *Quadcopter) DestinationGpsCoordinates() (flight.GpsData, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.destinationGps, q.destinationSet
}

// SetDestinationVector stores the distance in meters and the initial
// bearing in degrees from the current fix to the destination. Written by
// the GPS task.
func (q *Quadcopter) SetDestinationVector(distanceM, bearingDeg float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.distanceM = distanceM
	q.bearingDeg = bearingDeg
}

func (q *Quadcopter) DestinationVector() (distanceM, bearingDeg float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.distanceM, q.bearingDeg
}

// SetOperationMode is written by the terminal.
func (q *Quadcopter) SetOperationMode(m OperationMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.operationMode = m
}

func (q *Quadcopter) OperationMode() OperationMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.operationMode
}

// SetFlightControl stores the pilot's requested command. Written by the RC
// decoder and the PID sweep.
func (q *Quadcopter) SetFlightControl(cmd flight.FlightCommand) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requested = cmd
}

func (q *Quadcopter) FlightControl() flight.FlightCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requested
}

// IncrementTimingSkewedCount is called by the control task whenever a
// cycle starts late.
func (q *Quadcopter) IncrementTimingSkewedCount() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timingSkewed++
	return q.timingSkewed
}

func (q *Quadcopter) ResetTimingSkewedCount() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timingSkewed = 0
}

func (q *Quadcopter) TimingSkewedCount() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timingSkewed
}

// SetCommonPidParameters forwards to the stabilizer.
func (q *Quadcopter) SetCommonPidParameters(min, max float64, sampleMs uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stab.SetCommonPidParameters(min, max, sampleMs)
}

// SetAxisGains forwards to the stabilizer.
func (q *Quadcopter) SetAxisGains(a stabilizer.Axis, g pid.Gains) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stab.SetAxisGains(a, g)
}

func (q *Quadcopter) AxisGains(a stabilizer.Axis) pid.Gains {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stab.AxisGains(a)
}

// EnablePidIoLogging forwards to the stabilizer.
func (q *Quadcopter) EnablePidIoLogging(intervalMs uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stab.EnablePidIoLogging(intervalMs)
}

func (q *Quadcopter) PidIoLoggingInterval() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stab.PidIoLoggingInterval()
}

// SetPidSink forwards to the stabilizer. The sink runs with the lock held
// and must not call back into the Quadcopter.
func (q *Quadcopter) SetPidSink(sink func(stabilizer.PidSample)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stab.SetPidSink(sink)
}

func (q *Quadcopter) Attitude() flight.Attitude {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stab.Attitude()
}

func (q *Quadcopter) MotorOutputs() flight.MotorOutputs {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stab.MotorOutputs()
}

// Snapshot returns the telemetry variables of the quadcopter and its
// stabilizer.
func (q *Quadcopter) Snapshot() []flight.Var {
	q.mu.Lock()
	defer q.mu.Unlock()
	vars := []flight.Var{
		{Name: "mode", Value: q.mode.String()},
		{Name: "operation_mode", Value: q.operationMode.String()},
		{Name: "battery_percent", Value: q.batteryPercent},
		{Name: "low_battery_trigger", Value: q.lowBatteryTrigger},
		{Name: "rc_healthy", Value: q.rcHealthy},
		{Name: "kill_switch", Value: q.killSwitch},
		{Name: "gps_locked", Value: q.gpsLocked},
		{Name: "gps_lat", Value: q.currentGps.Latitude},
		{Name: "gps_lon", Value: q.currentGps.Longitude},
		{Name: "gps_alt", Value: q.currentGps.AltMeters},
		{Name: "dest_distance_m", Value: q.distanceM},
		{Name: "dest_bearing_deg", Value: q.bearingDeg},
		{Name: "timing_skewed", Value: q.timingSkewed},
	}
	return append(vars, q.stab.Snapshot()...)
}
