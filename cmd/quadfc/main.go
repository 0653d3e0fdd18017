// Command quadfc runs the flight controller on an embedded Linux board.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all" // Empty import needed to initialize embd library.

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/led"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/motor"
	"github.com/BryanSouza91/QuadFC/internal/pid"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/rc"
	"github.com/BryanSouza91/QuadFC/internal/scheduler"
	"github.com/BryanSouza91/QuadFC/internal/sensors"
	"github.com/BryanSouza91/QuadFC/internal/stabilizer"
	"github.com/BryanSouza91/QuadFC/internal/store"
	"github.com/BryanSouza91/QuadFC/internal/tasks"
	"github.com/BryanSouza91/QuadFC/internal/terminal"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	dbFile     = flag.String("db", "", "Path to the SQLite database file (overrides the configuration)")
	noTerminal = flag.Bool("no-terminal", false, "Do not serve the tuning terminal")
	noGps      = flag.Bool("no-gps", false, "Run without a GPS receiver")
)

// serialReadTimeout bounds every serial read so tasks notice shutdown.
const serialReadTimeout = 100 * time.Millisecond

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("quadfc: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == config.DefaultConfigPath {
		monitoring.Logf("no configuration at %s, using defaults", path)
		return &config.Config{}, nil
	}
	return config.Load(path)
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	dbPath := cfg.GetDatabasePath()
	if *dbFile != "" {
		dbPath = *dbFile
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := embd.InitGPIO(); err != nil {
		return fmt.Errorf("initializing GPIO: %w", err)
	}
	defer embd.CloseGPIO()
	if err := embd.InitI2C(); err != nil {
		return fmt.Errorf("initializing I2C: %w", err)
	}
	defer embd.CloseI2C()

	clock := timeutil.RealClock{}

	imu, err := sensors.OpenLSM6DS3TR(sensors.I2CBus{Bus: embd.NewI2CBus(cfg.GetI2CBus())})
	if err != nil {
		return err
	}
	sensorSystem := sensors.NewSystem(imu, clock)
	if accel, gyro, ok, err := db.Calibration(); err != nil {
		return err
	} else if ok {
		sensorSystem.SetOffsets(sensors.Offsets{Accel: accel, Gyro: gyro})
	}

	motors, err := openMotors(cfg.GetMotorPins())
	if err != nil {
		return err
	}
	defer func() {
		if err := motors.Stop(); err != nil {
			monitoring.Logf("stopping motors: %v", err)
		}
	}()

	q := quadcopter.New(motors, sensors.NewEstimator())
	if err := restoreTuning(q, cfg, db); err != nil {
		return err
	}

	sched := scheduler.New(clock)

	control := tasks.NewControlTask(q, sensorSystem, clock)
	control.SetCalibrationStore(db)
	status, err := openStatusLEDs(cfg.GetLedPins(), clock)
	if err != nil {
		return err
	}
	control.SetStatusLEDs(status)
	sched.Add(control)

	wireless, err := tasks.OpenSerial(cfg.GetWirelessPort(), cfg.GetWirelessBaud(), serialReadTimeout)
	if err != nil {
		return err
	}
	defer wireless.Close()
	killSwitch := tasks.NewKillSwitchTask(q, wireless)
	kill, err := openButton(cfg.GetKillButton())
	if err != nil {
		return err
	}
	arm, err := openButton(cfg.GetArmButton())
	if err != nil {
		return err
	}
	killSwitch.SetButtons(kill, arm)
	sched.Add(killSwitch)

	capture := rc.NewCapture(rc.NewTimer(clock))
	stopRc, err := startRcSource(ctx, cfg, capture)
	if err != nil {
		return err
	}
	defer stopRc()
	sched.Add(tasks.NewRcRemoteTask(rc.NewDecoder(capture.Pulses(), q, clock)))

	if !*noGps {
		gpsPort, err := tasks.OpenSerial(cfg.GetGpsPort(), cfg.GetGpsBaud(), serialReadTimeout)
		if err != nil {
			return err
		}
		defer gpsPort.Close()
		sched.Add(tasks.NewGpsTask(q, gpsPort, clock))
	}

	adc, err := embd.NewAnalogPin(cfg.GetBatteryPin())
	if err != nil {
		return fmt.Errorf("opening battery ADC: %w", err)
	}
	defer adc.Close()
	battery := tasks.NewBatteryTask(q, adc, cfg.GetBatteryVoltsPerCount())
	if low, high, ok, err := db.BatterySpan(); err != nil {
		return err
	} else if ok {
		battery.SetLearnedSpan(low, high)
	}
	battery.SetStore(db)
	sched.Add(battery)

	grid := tasks.Grid{Kp: cfg.GetSweepKp().Values(), Ki: cfg.GetSweepKi().Values(), Kd: cfg.GetSweepKd().Values()}
	pidTune := tasks.NewPidTuneTask(q, db, clock, grid, cfg.GetSweepDwell())
	sched.Add(pidTune)

	stats := func() []flight.Var {
		return append(control.Stats(), flight.Var{Name: "dropped RC pulses", Value: capture.Dropped()})
	}
	if !*noTerminal {
		termPort, err := tasks.OpenSerial(cfg.GetTerminalPort(), cfg.GetTerminalBaud(), serialReadTimeout)
		if err != nil {
			return err
		}
		defer termPort.Close()
		term := terminal.New(q, clock)
		term.SetStore(db)
		term.SetCalibrationRequests(control.CalibrationRequests())
		term.SetTuneRequests(pidTune.Requests())
		term.SetLoggerStats(stats)
		sched.Add(tasks.NewTerminalTask(term, termPort))
	}

	telemetry := tasks.NewTelemetryTask(q, db, clock)
	telemetry.AddVars(stats)
	sched.Add(telemetry)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	monitoring.Logf("quadfc running")
	<-ctx.Done()
	monitoring.Logf("shutting down")
	sched.Wait()
	return nil
}

// restoreTuning applies the configured gains and battery trigger, then
// any values saved from the terminal on earlier runs.
func restoreTuning(q *quadcopter.Quadcopter, cfg *config.Config, db *store.DB) error {
	gains := map[stabilizer.Axis]func() pid.Gains{
		stabilizer.Pitch: cfg.GetPitchGains,
		stabilizer.Roll:  cfg.GetRollGains,
		stabilizer.Yaw:   cfg.GetYawGains,
	}
	for a, get := range gains {
		if err := q.SetAxisGains(a, get()); err != nil {
			return err
		}
	}
	saved, err := db.Gains()
	if err != nil {
		return err
	}
	for name, g := range saved {
		a, err := stabilizer.ParseAxis(name)
		if err != nil {
			monitoring.Logf("ignoring saved gains: %v", err)
			continue
		}
		if err := q.SetAxisGains(a, g); err != nil {
			monitoring.Logf("ignoring saved %s gains: %v", a, err)
		}
	}

	q.SetLowBatteryTriggerPercentage(cfg.GetLowBatteryTrigger())
	if p, ok, err := db.LowBatteryTrigger(); err != nil {
		return err
	} else if ok {
		q.SetLowBatteryTriggerPercentage(p)
	}
	return nil
}

func openMotors(keys []string) (*motor.Quad, error) {
	var pins [4]motor.PWM
	for i, key := range keys {
		p, err := embd.NewPWMPin(key)
		if err != nil {
			return nil, fmt.Errorf("opening motor pin %s: %w", key, err)
		}
		pins[i] = p
	}
	return motor.NewQuad(pins[0], pins[1], pins[2], pins[3])
}

func openStatusLEDs(keys []string, clock timeutil.Clock) (*led.Status, error) {
	leds := make([]*led.LED, 3)
	for i, key := range keys {
		pin, err := embd.NewDigitalPin(key)
		if err != nil {
			return nil, fmt.Errorf("opening LED pin %s: %w", key, err)
		}
		if err := pin.SetDirection(embd.Out); err != nil {
			return nil, fmt.Errorf("LED pin %s: %w", key, err)
		}
		leds[i] = led.New(pin, clock)
	}
	return &led.Status{Error: leds[0], Armed: leds[1], Gps: leds[2]}, nil
}

// openButton returns nil for an empty key.
func openButton(key string) (tasks.Button, error) {
	if key == "" {
		return nil, nil
	}
	pin, err := embd.NewDigitalPin(key)
	if err != nil {
		return nil, fmt.Errorf("opening button %s: %w", key, err)
	}
	if err := pin.SetDirection(embd.In); err != nil {
		return nil, fmt.Errorf("button %s: %w", key, err)
	}
	return pin, nil
}

func startRcSource(ctx context.Context, cfg *config.Config, capture *rc.Capture) (stop func(), err error) {
	switch cfg.GetRcSource() {
	case "gpio":
		pins := make(map[rc.Channel]embd.DigitalPin)
		for name, key := range cfg.GetRcPins() {
			ch, err := rc.ParseChannel(name)
			if err != nil {
				return nil, err
			}
			pin, err := embd.NewDigitalPin(key)
			if err != nil {
				return nil, fmt.Errorf("opening RC %s pin %s: %w", ch, key, err)
			}
			pins[ch] = pin
		}
		stopWatching, err := rc.WatchPins(capture, pins)
		if err != nil {
			return nil, err
		}
		return func() {
			if err := stopWatching(); err != nil {
				monitoring.Logf("stopping RC pins: %v", err)
			}
		}, nil

	case "crsf":
		return startSerialReceiver(ctx, cfg.GetRxPort(), rc.CRSFBaudRate, "CRSF",
			func(r io.Reader) serialReceiver { return rc.NewCRSFSource(r, capture) })

	case "ibus":
		return startSerialReceiver(ctx, cfg.GetRxPort(), rc.IBusBaudRate, "iBus",
			func(r io.Reader) serialReceiver { return rc.NewIBusSource(r, capture) })
	}
	monitoring.Logf("no RC receiver configured")
	return func() {}, nil
}

type serialReceiver interface {
	Run(ctx context.Context) error
}

// startSerialReceiver runs a serial RC receiver until the returned stop
// func closes its port.
func startSerialReceiver(ctx context.Context, path string, baud int, name string, newSource func(io.Reader) serialReceiver) (stop func(), err error) {
	port, err := tasks.OpenSerial(path, baud, serialReadTimeout)
	if err != nil {
		return nil, err
	}
	source := newSource(port)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := source.Run(ctx); err != nil && ctx.Err() == nil {
			monitoring.Logf("error: %s receiver stopped: %v", name, err)
		}
	}()
	return func() {
		port.Close()
		<-done
	}, nil
}
