// Package terminal implements the tuning command line served over a
// serial port.
//
//	pid get                       print the gains of every axis
//	pid <pitch|roll|yaw> kp ki kd set the gains of one axis
//	logger pid <ms>               log PID input/output every ms (0 off)
//	logger status                 print logging statistics
//	mode <auto|manual>            select the operation mode
//	dest <lat> <lon>              set the GPS destination in degrees
//	battery trigger [pct]         print or set the low battery trigger
//	calibrate                     zero the sensors (vehicle must be at rest)
//	tune                          start the PID sweep
//	help                          list commands
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/pid"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/stabilizer"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

// MinPidLogIntervalMs is the shortest accepted PID logging interval.
const MinPidLogIntervalMs = 10

// CalibrationSettle is how long calibrate waits before handing off.
const CalibrationSettle = 2 * time.Second

const maxLineLength = 256

// Vehicle is the part of the quadcopter the terminal drives.
type Vehicle interface {
	AxisGains(a stabilizer.Axis) pid.Gains
	SetAxisGains(a stabilizer.Axis, g pid.Gains) error
	EnablePidIoLogging(intervalMs uint32)
	PidIoLoggingInterval() uint32
	SetOperationMode(m quadcopter.OperationMode)
	SetDestinationGpsCoordinates(d flight.GpsData)
	SetLowBatteryTriggerPercentage(p uint8)
	LowBatteryTriggerPercentage() uint8
}

// Store persists settings changed from the terminal.
type Store interface {
	SaveGains(axis string, g pid.Gains) error
	SaveLowBatteryTrigger(p uint8) error
}

// Terminal executes tuning commands.
type Terminal struct {
	vehicle   Vehicle
	clock     timeutil.Clock
	store     Store
	calibrate chan<- struct{}
	tune      chan<- struct{}
	stats     func() []flight.Var

	line   []byte
	lastCR bool
}

func New(v Vehicle, clock timeutil.Clock) *Terminal {
	return &Terminal{vehicle: v, clock: clock}
}

// SetStore makes gain and battery trigger changes persistent.
func (t *Terminal) SetStore(s Store) { t.store = s }

// SetCalibrationRequests sets where calibrate signals the control task.
func (t *Terminal) SetCalibrationRequests(ch chan<- struct{}) { t.calibrate = ch }

// SetTuneRequests sets where tune signals the PID sweep task.
func (t *Terminal) SetTuneRequests(ch chan<- struct{}) { t.tune = ch }

// SetLoggerStats sets the values printed by "logger status".
func (t *Terminal) SetLoggerStats(f func() []flight.Var) { t.stats = f }

// Serve reads commands from rw until the context ends or reading fails.
// Reads that time out return no data and are retried.
func (t *Terminal) Serve(ctx context.Context, rw io.ReadWriter) error {
	for ctx.Err() == nil {
		if err := t.Poll(rw); err != nil {
			return err
		}
	}
	return nil
}

// Poll does one read from rw and executes every command completed by it.
func (t *Terminal) Poll(rw io.ReadWriter) error {
	var buf [64]byte
	n, err := rw.Read(buf[:])
	for _, b := range buf[:n] {
		afterCR := t.lastCR
		t.lastCR = b == '\r'
		switch {
		case b == '\n' && afterCR:
		case b == '\r' || b == '\n':
			line := string(t.line)
			t.line = t.line[:0]
			if execErr := t.Execute(rw, line); execErr != nil {
				return execErr
			}
		case len(t.line) < maxLineLength:
			t.line = append(t.line, b)
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading terminal: %w", err)
	}
	return nil
}

// Execute runs one command line and writes its reply to w. The returned
// error is a write failure; command errors are replied to w.
func (t *Terminal) Execute(w io.Writer, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		_, err = fmt.Fprintf(w, "ERROR: %v\n", err)
		return err
	}
	if len(args) == 0 {
		args = []string{"help"}
	}

	switch strings.ToLower(args[0]) {
	case "pid":
		return t.pid(w, args[1:])
	case "logger":
		return t.logger(w, args[1:])
	case "mode":
		return t.mode(w, args[1:])
	case "dest":
		return t.dest(w, args[1:])
	case "battery":
		return t.battery(w, args[1:])
	case "calibrate":
		return t.calibrateCmd(w)
	case "tune":
		return t.tuneCmd(w)
	case "help":
		_, err = io.WriteString(w, help)
		return err
	}
	_, err = fmt.Fprintf(w, "ERROR: unknown command %q, try help\n", args[0])
	return err
}

const help = `pid get                : print all PID parameters
pid pitch|roll|yaw P I D : set the PID parameters of one axis
logger pid <ms>        : log PID input/output every ms, 0 turns it off
logger status          : print logger status
mode auto|manual       : select the operation mode
dest <lat> <lon>       : set the GPS destination in decimal degrees
battery trigger [pct]  : print or set the low battery trigger percentage
calibrate              : find zero offsets, the quadcopter must be at rest
tune                   : iterate through PID values and log them
`

func (t *Terminal) pid(w io.Writer, args []string) error {
	if len(args) == 1 && strings.EqualFold(args[0], "get") {
		for _, a := range stabilizer.Axes {
			g := t.vehicle.AxisGains(a)
			if _, err := fmt.Fprintf(w, "%5s Axis: %f(kp) %f(ki) %f(kd)\n", axisTitle(a), g.Kp, g.Ki, g.Kd); err != nil {
				return err
			}
		}
		return nil
	}

	if len(args) == 0 {
		_, err := io.WriteString(w, "ERROR: expected 'pid get' or 'pid <axis> <kp> <ki> <kd>'\n")
		return err
	}
	axis, err := stabilizer.ParseAxis(strings.ToLower(args[0]))
	if err != nil {
		_, err = fmt.Fprintf(w, "ERROR: %v\n", err)
		return err
	}
	g, ok := parseGains(args[1:])
	if !ok {
		_, err := io.WriteString(w, "ERROR: Need 3 parameters for <kp> <ki> <kd>\n")
		return err
	}
	if err := t.vehicle.SetAxisGains(axis, g); err != nil {
		_, err = fmt.Fprintf(w, "ERROR: %v\n", err)
		return err
	}
	if t.store != nil {
		if err := t.store.SaveGains(axis.String(), g); err != nil {
			monitoring.Logf("terminal: %v", err)
		}
	}
	_, err = fmt.Fprintf(w, "Set %s PID parameters to: %f(kp) %f(ki) %f(kd)\n", axisTitle(axis), g.Kp, g.Ki, g.Kd)
	return err
}

func parseGains(args []string) (pid.Gains, bool) {
	if len(args) != 3 {
		return pid.Gains{}, false
	}
	var v [3]float64
	for i, s := range args {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return pid.Gains{}, false
		}
		v[i] = f
	}
	return pid.Gains{Kp: v[0], Ki: v[1], Kd: v[2]}, true
}

func axisTitle(a stabilizer.Axis) string {
	s := a.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

func (t *Terminal) logger(w io.Writer, args []string) error {
	if len(args) == 0 {
		_, err := io.WriteString(w, "ERROR: expected 'logger pid <ms>' or 'logger status'\n")
		return err
	}
	switch strings.ToLower(args[0]) {
	case "status":
		if _, err := fmt.Fprintf(w, "%24s : %d ms\n", "PID logging interval", t.vehicle.PidIoLoggingInterval()); err != nil {
			return err
		}
		if t.stats == nil {
			return nil
		}
		for _, v := range t.stats() {
			if _, err := fmt.Fprintf(w, "%24s : %v\n", v.Name, v.Value); err != nil {
				return err
			}
		}
		return nil
	case "pid":
		var ms uint64
		if len(args) > 1 {
			var err error
			if ms, err = strconv.ParseUint(args[1], 10, 32); err != nil {
				_, err = fmt.Fprintf(w, "ERROR: invalid interval %q\n", args[1])
				return err
			}
		}
		if ms > 0 && ms < MinPidLogIntervalMs {
			ms = MinPidLogIntervalMs
		}
		t.vehicle.EnablePidIoLogging(uint32(ms))
		state := "Disabled"
		if ms > 0 {
			state = "Enabled"
		}
		_, err := fmt.Fprintf(w, "%s PID logging every %d ms\n", state, ms)
		return err
	}
	_, err := fmt.Fprintf(w, "ERROR: unknown logger command %q\n", args[0])
	return err
}

func (t *Terminal) mode(w io.Writer, args []string) error {
	var m quadcopter.OperationMode
	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "auto":
			m = quadcopter.OperationAuto
		case "manual":
			m = quadcopter.OperationManual
		}
	}
	if m == quadcopter.OperationInvalid {
		_, err := io.WriteString(w, "ERROR: expected 'mode auto' or 'mode manual'\n")
		return err
	}
	t.vehicle.SetOperationMode(m)
	_, err := fmt.Fprintf(w, "Operation mode set to %s\n", m)
	return err
}

func (t *Terminal) dest(w io.Writer, args []string) error {
	var lat, lon float64
	ok := len(args) == 2
	if ok {
		var errLat, errLon error
		lat, errLat = strconv.ParseFloat(args[0], 64)
		lon, errLon = strconv.ParseFloat(args[1], 64)
		ok = errLat == nil && errLon == nil &&
			lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
	}
	if !ok {
		_, err := io.WriteString(w, "ERROR: Need <lat> <lon> in decimal degrees\n")
		return err
	}
	t.vehicle.SetDestinationGpsCoordinates(flight.GpsData{Latitude: lat, Longitude: lon})
	_, err := fmt.Fprintf(w, "Destination set to %f, %f\n", lat, lon)
	return err
}

func (t *Terminal) battery(w io.Writer, args []string) error {
	if len(args) == 0 || !strings.EqualFold(args[0], "trigger") || len(args) > 2 {
		_, err := io.WriteString(w, "ERROR: expected 'battery trigger [pct]'\n")
		return err
	}
	if len(args) == 2 {
		p, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil || p > 100 {
			_, err = fmt.Fprintf(w, "ERROR: invalid percentage %q\n", args[1])
			return err
		}
		t.vehicle.SetLowBatteryTriggerPercentage(uint8(p))
		if t.store != nil {
			if err := t.store.SaveLowBatteryTrigger(uint8(p)); err != nil {
				monitoring.Logf("terminal: %v", err)
			}
		}
	}
	_, err := fmt.Fprintf(w, "Low battery trigger: %d %%\n", t.vehicle.LowBatteryTriggerPercentage())
	return err
}

func (t *Terminal) calibrateCmd(w io.Writer) error {
	if _, err := io.WriteString(w, "MAKE SURE THE QUADCOPTER IS AT FULL REST!\n"); err != nil {
		return err
	}
	t.clock.Sleep(CalibrationSettle)
	return t.signal(w, t.calibrate, "calibration")
}

func (t *Terminal) tuneCmd(w io.Writer) error {
	if _, err := io.WriteString(w, "Starting iteration of PID values to tune PID!\n"); err != nil {
		return err
	}
	return t.signal(w, t.tune, "tune")
}

// signal does a non-blocking send; a request already pending absorbs it.
func (t *Terminal) signal(w io.Writer, ch chan<- struct{}, what string) error {
	if ch == nil {
		_, err := fmt.Fprintf(w, "ERROR: %s is not available\n", what)
		return err
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}
