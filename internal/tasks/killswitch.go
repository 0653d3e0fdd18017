package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
)

// Wireless command codes.
const (
	WirelessKill   byte = 0
	WirelessArm    byte = 1
	WirelessDisarm byte = 2
)

// Button is a push button input; embd.DigitalPin satisfies it.
// A read of 1 means pressed.
type Button interface {
	Read() (int, error)
}

// KillSwitchTask applies the wireless safety link and the buttons.
type KillSwitchTask struct {
	q    *quadcopter.Quadcopter
	link io.Reader

	kill, arm  Button
	armPressed bool
}

// NewKillSwitchTask reads commands from link, which must return within
// config.WirelessTimeout when nothing arrives.
func NewKillSwitchTask(q *quadcopter.Quadcopter, link io.Reader) *KillSwitchTask {
	return &KillSwitchTask{q: q, link: link}
}

// SetButtons sets the kill and arm toggle buttons. Either may be nil.
func (k *KillSwitchTask) SetButtons(kill, arm Button) {
	k.kill, k.arm = kill, arm
}

func (k *KillSwitchTask) Name() string { return "killsw" }

func (k *KillSwitchTask) Priority() int { return config.PriorityKillSwitch }

func (k *KillSwitchTask) Period() time.Duration { return 0 }

func (k *KillSwitchTask) Init(context.Context) error { return nil }

func (k *KillSwitchTask) Run(context.Context) error {
	var errs []error

	var buf [1]byte
	n, err := k.link.Read(buf[:])
	if n == 1 {
		k.apply(buf[0])
	}
	if err != nil && !errors.Is(err, io.EOF) {
		errs = append(errs, fmt.Errorf("reading wireless link: %w", err))
	}

	if k.kill != nil {
		v, err := k.kill.Read()
		if err != nil {
			errs = append(errs, fmt.Errorf("reading kill button: %w", err))
		} else if v == 1 {
			k.q.EngageKillSwitch()
		}
	}
	if k.arm != nil {
		v, err := k.arm.Read()
		if err != nil {
			errs = append(errs, fmt.Errorf("reading arm button: %w", err))
		} else {
			pressed := v == 1
			if pressed && !k.armPressed {
				k.q.ToggleArmed()
			}
			k.armPressed = pressed
		}
	}
	return errors.Join(errs...)
}

func (k *KillSwitchTask) apply(cmd byte) {
	switch cmd {
	case WirelessArm:
		k.q.SetArmed(true)
	case WirelessDisarm:
		k.q.SetArmed(false)
	default:
		if cmd != WirelessKill {
			monitoring.Logf("unknown wireless command %d, engaging kill switch", cmd)
		}
		k.q.EngageKillSwitch()
	}
}
