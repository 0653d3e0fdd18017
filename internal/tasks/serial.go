package tasks

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter is the part of a serial port the tasks use. Reads return
// no data once the port's read timeout expires.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// OpenSerial opens path at baud, 8N1, with the given read timeout.
func OpenSerial(path string, baud int, readTimeout time.Duration) (SerialPorter, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", path, err)
	}
	return port, nil
}
