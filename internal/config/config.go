// Package config loads the QuadFC runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/pid"
)

// DefaultConfigPath is where cmd/quadfc looks for the configuration file.
const DefaultConfigPath = "config/quadfc.json"

// Gains is a PID gain triple as written in the configuration file.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Range is a sweep range: Start inclusive, End exclusive.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

// Values lists the points of the range.
func (r Range) Values() []float64 {
	if r.Step <= 0 {
		return nil
	}
	var out []float64
	for v := r.Start; v < r.End; v += r.Step {
		out = append(out, v)
	}
	return out
}

// Config is the root configuration. Omitted fields fall back to the
// defaults returned by the Get* methods, so partial files are safe.
type Config struct {
	// Storage
	DatabasePath *string `json:"database_path,omitempty"`

	// IMU
	I2CBus *byte `json:"i2c_bus,omitempty"`

	// RC receiver: "gpio", "crsf", "ibus" or "none"
	RcSource *string           `json:"rc_source,omitempty"`
	RcPins   map[string]string `json:"rc_pins,omitempty"` // channel name -> GPIO key
	RxPort   *string           `json:"rx_port,omitempty"` // serial receivers

	// Outputs
	MotorPins  []string `json:"motor_pins,omitempty"` // north, south, east, west
	LedPins    []string `json:"led_pins,omitempty"`   // error, armed, gps
	KillButton *string  `json:"kill_button,omitempty"`
	ArmButton  *string  `json:"arm_button,omitempty"`

	// Serial links
	WirelessPort *string `json:"wireless_port,omitempty"`
	WirelessBaud *int    `json:"wireless_baud,omitempty"`
	TerminalPort *string `json:"terminal_port,omitempty"`
	TerminalBaud *int    `json:"terminal_baud,omitempty"`
	GpsPort      *string `json:"gps_port,omitempty"`
	GpsBaud      *int    `json:"gps_baud,omitempty"`

	// Battery
	BatteryPin           *int     `json:"battery_pin,omitempty"`
	BatteryVoltsPerCount *float64 `json:"battery_volts_per_count,omitempty"`
	LowBatteryTrigger    *int     `json:"low_battery_trigger,omitempty"`

	// PID
	Pitch *Gains `json:"pitch,omitempty"`
	Roll  *Gains `json:"roll,omitempty"`
	Yaw   *Gains `json:"yaw,omitempty"`

	// PID sweep grid
	SweepKp    *Range  `json:"sweep_kp,omitempty"`
	SweepKi    *Range  `json:"sweep_ki,omitempty"`
	SweepKd    *Range  `json:"sweep_kd,omitempty"`
	SweepDwell *string `json:"sweep_dwell,omitempty"` // duration string like "2s"
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.RcSource != nil {
		switch *c.RcSource {
		case "gpio", "crsf", "ibus", "none":
		default:
			return fmt.Errorf("rc_source must be gpio, crsf, ibus or none, got %q", *c.RcSource)
		}
	}
	if c.MotorPins != nil && len(c.MotorPins) != 4 {
		return fmt.Errorf("motor_pins needs 4 pins, got %d", len(c.MotorPins))
	}
	if c.LedPins != nil && len(c.LedPins) > 3 {
		return fmt.Errorf("led_pins takes at most 3 pins, got %d", len(c.LedPins))
	}
	if c.LowBatteryTrigger != nil && (*c.LowBatteryTrigger < 0 || *c.LowBatteryTrigger > 100) {
		return fmt.Errorf("low_battery_trigger must be between 0 and 100, got %d", *c.LowBatteryTrigger)
	}
	if c.BatteryVoltsPerCount != nil && *c.BatteryVoltsPerCount <= 0 {
		return fmt.Errorf("battery_volts_per_count must be positive, got %f", *c.BatteryVoltsPerCount)
	}
	for name, g := range map[string]*Gains{"pitch": c.Pitch, "roll": c.Roll, "yaw": c.Yaw} {
		if g != nil && (g.Kp < 0 || g.Ki < 0 || g.Kd < 0) {
			return fmt.Errorf("%s gains must be non-negative: %w", name, pid.ErrInvalidParameter)
		}
	}
	for name, r := range map[string]*Range{"sweep_kp": c.SweepKp, "sweep_ki": c.SweepKi, "sweep_kd": c.SweepKd} {
		if r != nil && (r.Step <= 0 || r.Start < 0) {
			return fmt.Errorf("%s needs a positive step and a non-negative start", name)
		}
	}
	if c.SweepDwell != nil && *c.SweepDwell != "" {
		if _, err := time.ParseDuration(*c.SweepDwell); err != nil {
			return fmt.Errorf("invalid sweep_dwell '%s': %w", *c.SweepDwell, err)
		}
	}
	for _, baud := range []*int{c.WirelessBaud, c.TerminalBaud, c.GpsBaud} {
		if baud != nil && *baud <= 0 {
			return fmt.Errorf("baud rates must be positive, got %d", *baud)
		}
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func (c *Config) GetDatabasePath() string { return getString(c.DatabasePath, "quadfc.db") }

func (c *Config) GetI2CBus() byte {
	if c.I2CBus == nil {
		return 1
	}
	return *c.I2CBus
}

func (c *Config) GetRcSource() string { return getString(c.RcSource, "gpio") }

// GetRcPins returns the GPIO key of each RC channel, keyed by channel name.
func (c *Config) GetRcPins() map[string]string {
	if c.RcPins == nil {
		return map[string]string{
			"pitch":    "GPIO_17",
			"roll":     "GPIO_27",
			"yaw":      "GPIO_22",
			"throttle": "GPIO_23",
			"aux1":     "GPIO_24",
			"aux2":     "GPIO_25",
		}
	}
	return c.RcPins
}

func (c *Config) GetRxPort() string { return getString(c.RxPort, "/dev/ttyAMA0") }

func (c *Config) GetMotorPins() []string {
	if c.MotorPins == nil {
		return []string{"P9_14", "P9_16", "P8_19", "P8_13"}
	}
	return c.MotorPins
}

// GetLedPins returns the error, armed and GPS LED pins. Missing entries
// leave that LED unconnected.
func (c *Config) GetLedPins() []string {
	if c.LedPins == nil {
		return []string{"P8_7", "P8_8", "P8_9"}
	}
	return c.LedPins
}

// GetKillButton returns the kill button pin, or "" when there is none.
func (c *Config) GetKillButton() string { return getString(c.KillButton, "") }

// GetArmButton returns the arm toggle button pin, or "" when there is none.
func (c *Config) GetArmButton() string { return getString(c.ArmButton, "") }

func (c *Config) GetWirelessPort() string { return getString(c.WirelessPort, "/dev/ttyUSB0") }
func (c *Config) GetWirelessBaud() int    { return getInt(c.WirelessBaud, 38400) }
func (c *Config) GetTerminalPort() string { return getString(c.TerminalPort, "/dev/ttyUSB1") }
func (c *Config) GetTerminalBaud() int    { return getInt(c.TerminalBaud, 115200) }
func (c *Config) GetGpsPort() string      { return getString(c.GpsPort, "/dev/ttyS1") }
func (c *Config) GetGpsBaud() int         { return getInt(c.GpsBaud, 9600) }

func (c *Config) GetBatteryPin() int { return getInt(c.BatteryPin, 0) }

// GetBatteryVoltsPerCount converts raw ADC counts to battery volts. The
// default fits a 12 bit 1.8 V ADC behind a 1:10 divider.
func (c *Config) GetBatteryVoltsPerCount() float64 {
	if c.BatteryVoltsPerCount == nil {
		return 1.8 / 4095 * 10
	}
	return *c.BatteryVoltsPerCount
}

func (c *Config) GetLowBatteryTrigger() uint8 {
	return uint8(getInt(c.LowBatteryTrigger, 20))
}

var defaultGains = Gains{Kp: 0.5, Ki: 0.1, Kd: 0.2}

func (g *Gains) get() pid.Gains {
	if g == nil {
		g = &defaultGains
	}
	return pid.Gains{Kp: g.Kp, Ki: g.Ki, Kd: g.Kd}
}

func (c *Config) GetPitchGains() pid.Gains { return c.Pitch.get() }
func (c *Config) GetRollGains() pid.Gains  { return c.Roll.get() }
func (c *Config) GetYawGains() pid.Gains   { return c.Yaw.get() }

func getRange(r *Range, def Range) Range {
	if r == nil {
		return def
	}
	return *r
}

func (c *Config) GetSweepKp() Range { return getRange(c.SweepKp, Range{Start: 0, End: 4, Step: 1}) }
func (c *Config) GetSweepKi() Range { return getRange(c.SweepKi, Range{Start: 0, End: 1, Step: 1}) }
func (c *Config) GetSweepKd() Range { return getRange(c.SweepKd, Range{Start: 0, End: 1, Step: 1}) }

// GetSweepDwell returns how long each sweep cell holds the throttle step.
func (c *Config) GetSweepDwell() time.Duration {
	if c.SweepDwell == nil || *c.SweepDwell == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.SweepDwell)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
