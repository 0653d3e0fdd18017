package tasks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
)

const (
	BatterySamples = 12

	// The pack has to be seen across this span before the percentage
	// means anything.
	minLearnedSpanMv = 2500
	logDeltaMv       = 100
)

// AnalogInput is an ADC channel; embd.AnalogPin satisfies it.
type AnalogInput interface {
	Read() (int, error)
}

// BatteryStore persists the learned voltage span of the pack.
type BatteryStore interface {
	SaveBatterySpan(lowMv, highMv int32) error
}

// BatteryTask estimates the battery charge from its voltage. Without a
// discharge curve the estimate is linear between the lowest and highest
// voltages seen so far.
type BatteryTask struct {
	q             *quadcopter.Quadcopter
	adc           AnalogInput
	voltsPerCount float64
	store         BatteryStore

	samples []int
	lowMv   int32
	highMv  int32
	prevMv  int32
}

func NewBatteryTask(q *quadcopter.Quadcopter, adc AnalogInput, voltsPerCount float64) *BatteryTask {
	return &BatteryTask{
		q:             q,
		adc:           adc,
		voltsPerCount: voltsPerCount,
		samples:       make([]int, 0, BatterySamples),
		lowMv:         999 * 1000,
		highMv:        -1000,
	}
}

// SetStore persists the learned span whenever it grows.
func (b *BatteryTask) SetStore(s BatteryStore) { b.store = s }

// SetLearnedSpan restores a span learned on an earlier flight.
func (b *BatteryTask) SetLearnedSpan(lowMv, highMv int32) {
	b.lowMv, b.highMv = lowMv, highMv
}

// LearnedSpan returns the lowest and highest voltages seen.
func (b *BatteryTask) LearnedSpan() (lowMv, highMv int32) { return b.lowMv, b.highMv }

func (b *BatteryTask) Name() string { return "battery" }

func (b *BatteryTask) Priority() int { return config.PriorityBattery }

func (b *BatteryTask) Period() time.Duration { return config.BatteryPeriod }

func (b *BatteryTask) Init(context.Context) error { return nil }

func (b *BatteryTask) Run(context.Context) error {
	v, err := b.adc.Read()
	if err != nil {
		return fmt.Errorf("reading battery voltage: %w", err)
	}
	b.samples = append(b.samples, v)
	if len(b.samples) < BatterySamples {
		return nil
	}

	sum := 0
	for _, s := range b.samples {
		sum += s
	}
	avg := float64(sum) / float64(len(b.samples))
	b.samples = b.samples[:0]

	mv := int32(math.Round(avg * b.voltsPerCount * 1000))
	changed := false
	if mv > b.highMv {
		b.highMv = mv
		changed = true
	}
	if mv < b.lowMv {
		b.lowMv = mv
		changed = true
	}

	percent := int32(100)
	if span := b.highMv - b.lowMv; span >= minLearnedSpanMv {
		percent = (mv - b.lowMv) * 100 / (1 + span)
	}
	b.q.SetBatteryPercentage(uint8(percent))

	if d := mv - b.prevMv; d > logDeltaMv || d < -logDeltaMv {
		b.prevMv = mv
		monitoring.Logf("battery millivolts, %d, estimated charge %%, %d, (%d/%d)", mv, percent, b.lowMv, b.highMv)
	}

	if changed && b.store != nil {
		if err := b.store.SaveBatterySpan(b.lowMv, b.highMv); err != nil {
			return err
		}
	}
	return nil
}
