package sensors

import (
	"errors"
	"fmt"

	"github.com/kidoman/embd"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/lsm6ds3tr"
)

// I2CBus adapts an embd bus to the interface the tinygo drivers expect.
type I2CBus struct {
	Bus embd.I2CBus
}

var _ drivers.I2C = I2CBus{}

// Tx writes w then reads len(r) bytes. A single byte write followed by a
// read is a register read.
func (b I2CBus) Tx(addr uint16, w, r []byte) error {
	a := byte(addr)
	switch {
	case len(w) == 0 && len(r) == 0:
		return nil
	case len(r) == 0:
		return b.Bus.WriteBytes(a, w)
	case len(w) == 1:
		return b.Bus.ReadFromReg(a, w[0], r)
	case len(w) == 0:
		return b.readInto(a, r)
	}
	if err := b.Bus.WriteBytes(a, w); err != nil {
		return err
	}
	return b.readInto(a, r)
}

func (b I2CBus) readInto(addr byte, r []byte) error {
	data, err := b.Bus.ReadBytes(addr, len(r))
	if err != nil {
		return err
	}
	copy(r, data)
	return nil
}

func (b I2CBus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return b.Bus.ReadFromReg(addr, reg, buf)
}

func (b I2CBus) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	return b.Bus.WriteToReg(addr, reg, buf)
}

// ErrNotConnected is returned when the IMU does not answer on the bus.
var ErrNotConnected = errors.New("imu not connected")

// OpenLSM6DS3TR configures an LSM6DS3TR on bus for flight: 8 g and
// 1000 dps full scale, both sampled at 104 Hz.
func OpenLSM6DS3TR(bus drivers.I2C) (*lsm6ds3tr.Device, error) {
	dev := lsm6ds3tr.New(bus)
	err := dev.Configure(lsm6ds3tr.Configuration{
		AccelRange:      lsm6ds3tr.ACCEL_8G,
		AccelSampleRate: lsm6ds3tr.ACCEL_SR_104,
		GyroRange:       lsm6ds3tr.GYRO_1000DPS,
		GyroSampleRate:  lsm6ds3tr.GYRO_SR_104,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring lsm6ds3tr: %w", err)
	}
	if !dev.Connected() {
		return nil, ErrNotConnected
	}
	return dev, nil
}
