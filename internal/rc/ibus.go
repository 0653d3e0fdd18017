package rc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/BryanSouza91/QuadFC/internal/monitoring"
)

// FlySky iBus serial protocol.
const (
	IBusHeader1 = 0x20
	IBusHeader2 = 0x40

	// 2 (header) + 14*2 (channels) + 2 (checksum)
	IBusPacketSize = 32

	IBusNumChannels = 14

	IBusBaudRate = 115200
)

// IBusParser assembles iBus frames from a byte stream.
type IBusParser struct {
	packet [IBusPacketSize]byte
	index  int
}

// Feed consumes one byte. It returns true with the channel values, already
// in microseconds, when the byte completes a valid frame, and ErrChecksum
// when it completes a corrupt one.
func (p *IBusParser) Feed(b byte) ([IBusNumChannels]uint16, bool, error) {
	var none [IBusNumChannels]uint16

	switch p.index {
	case 0:
		if b == IBusHeader1 {
			p.packet[0] = b
			p.index = 1
		}
		return none, false, nil
	case 1:
		if b != IBusHeader2 {
			p.index = 0
			if b == IBusHeader1 {
				p.index = 1
			}
			return none, false, nil
		}
	}

	p.packet[p.index] = b
	p.index++
	if p.index < IBusPacketSize {
		return none, false, nil
	}
	p.index = 0

	want := ibusChecksum(p.packet[:IBusPacketSize-2])
	got := binary.LittleEndian.Uint16(p.packet[IBusPacketSize-2:])
	if got != want {
		return none, false, fmt.Errorf("%w: got %#04x want %#04x", ErrChecksum, got, want)
	}

	var out [IBusNumChannels]uint16
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(p.packet[2+2*i:])
	}
	return out, true, nil
}

// ibusChecksum is 0xFFFF minus the sum of every byte before the checksum.
func ibusChecksum(data []byte) uint16 {
	sum := uint16(0xFFFF)
	for _, b := range data {
		sum -= uint16(b)
	}
	return sum
}

// IBusSource reads an iBus receiver from a serial port and feeds its
// channels into a Capture as pulses.
type IBusSource struct {
	r       io.Reader
	capture *Capture
	parser  IBusParser
	bad     monitoring.RateLimited
}

// NewIBusSource returns a source reading from r, which should time out
// periodically like NewCRSFSource expects.
func NewIBusSource(r io.Reader, c *Capture) *IBusSource {
	return &IBusSource{r: r, capture: c, bad: monitoring.RateLimited{Every: 100}}
}

// Run reads until ctx is done or the reader fails.
func (s *IBusSource) Run(ctx context.Context) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.r.Read(buf)
		for _, b := range buf[:n] {
			s.feed(b)
		}
		if err != nil {
			return fmt.Errorf("reading iBus receiver: %w", err)
		}
	}
}

func (s *IBusSource) feed(b byte) {
	ch, ok, err := s.parser.Feed(b)
	if err != nil {
		s.bad.Logf("discarding iBus frame: %v", err)
		return
	}
	if !ok {
		return
	}
	for _, m := range aetrChannelMap {
		s.capture.Send(Pulse{Channel: m.dst, WidthUs: uint32(ch[m.src])})
	}
}
