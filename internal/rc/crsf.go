package rc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/xmath"
)

// CRSF (Crossfire) serial protocol, used by TBS Crossfire and ExpressLRS
// receivers.
const (
	CRSFAddressFlightController = 0xC8
	CRSFFrameTypeRCChannels     = 0x16

	// 1 (address) + 1 (length) + 1 (type) + 22 (payload) + 1 (CRC)
	CRSFPacketSize = 26

	CRSFNumChannels = 16

	CRSFChannelValueMin = 172  // 988us
	CRSFChannelValueMax = 1811 // 2012us

	CRSFBaudRate = 420000

	minRxValueUs = 988
	maxRxValueUs = 2012
)

// ErrChecksum is returned for a serial receiver frame whose checksum does
// not match.
var ErrChecksum = errors.New("rc: checksum mismatch")

type crsfState int

const (
	stateAddress crsfState = iota
	stateLength
	stateType
	statePayload
	stateChecksum
)

// CRSFParser assembles RC channel frames from a byte stream.
type CRSFParser struct {
	packet [CRSFPacketSize]byte
	index  int
	length int
	state  crsfState
}

func (p *CRSFParser) reset() {
	p.packet = [CRSFPacketSize]byte{}
	p.index = 0
	p.state = stateAddress
}

// Feed consumes one byte. It returns true with the unpacked channels when
// the byte completes a valid frame, and ErrChecksum when it completes a
// corrupt one.
func (p *CRSFParser) Feed(b byte) ([CRSFNumChannels]uint16, bool, error) {
	var none [CRSFNumChannels]uint16

	switch p.state {
	case stateAddress:
		if b == CRSFAddressFlightController {
			p.packet[0] = b
			p.index = 1
			p.state = stateLength
		}

	case stateLength:
		// The length covers type, payload and CRC. Only RC channel frames
		// are accepted, so anything that does not fit the buffer is noise.
		if b < 2 || int(b) > CRSFPacketSize-2 {
			p.reset()
			break
		}
		p.length = int(b)
		p.packet[p.index] = b
		p.index++
		p.state = stateType

	case stateType:
		if b != CRSFFrameTypeRCChannels {
			p.reset()
			break
		}
		p.packet[p.index] = b
		p.index++
		p.state = statePayload
		if p.index >= p.length+1 {
			p.state = stateChecksum
		}

	case statePayload:
		p.packet[p.index] = b
		p.index++
		if p.index >= p.length+1 {
			p.state = stateChecksum
		}

	case stateChecksum:
		// CRC covers type and payload.
		crc := crc8DVBS2(p.packet[2:p.index])
		packet := p.packet
		p.reset()
		if crc != b {
			return none, false, fmt.Errorf("%w: got %#02x want %#02x", ErrChecksum, b, crc)
		}
		return unpackChannels(packet), true, nil
	}
	return none, false, nil
}

// unpackChannels extracts the 11-bit little-endian channel values of an RC
// channels frame.
func unpackChannels(packet [CRSFPacketSize]byte) [CRSFNumChannels]uint16 {
	bits := packet[3 : CRSFPacketSize-1]

	var out [CRSFNumChannels]uint16
	var merged uint
	var value uint32
	var idx int

	for n := range out {
		for merged < 11 {
			if idx >= len(bits) {
				return out
			}
			value |= uint32(bits[idx]) << merged
			idx++
			merged += 8
		}
		out[n] = uint16(value & 0x07FF)
		value >>= 11
		merged -= 11
	}
	return out
}

// crc8DVBS2 is the CRC8 used by CRSF, polynomial 0xD5.
func crc8DVBS2(data []byte) byte {
	crc := byte(0)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0xD5
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRSFValueToMicros converts a CRSF channel value to a pulse width.
func CRSFValueToMicros(v uint16) uint32 {
	us := xmath.MapRange(float64(v),
		CRSFChannelValueMin, CRSFChannelValueMax,
		minRxValueUs, maxRxValueUs)
	return uint32(math.Round(us))
}

// Serial receivers send AETR order: roll, pitch, throttle, yaw, then aux.
// Throttle goes last because it commits the frame in the decoder.
var aetrChannelMap = [...]struct {
	src int
	dst Channel
}{
	{1, ChannelPitch},
	{0, ChannelRoll},
	{3, ChannelYaw},
	{4, ChannelAux1},
	{5, ChannelAux2},
	{2, ChannelThrottle},
}

// CRSFSource reads a CRSF receiver from a serial port and feeds its
// channels into a Capture as pulses.
type CRSFSource struct {
	r       io.Reader
	capture *Capture
	parser  CRSFParser
	bad     monitoring.RateLimited
}

// NewCRSFSource returns a source reading from r. r should return from
// Read periodically, as a serial port with a read timeout does, so the
// source notices ctx ending.
func NewCRSFSource(r io.Reader, c *Capture) *CRSFSource {
	return &CRSFSource{r: r, capture: c, bad: monitoring.RateLimited{Every: 100}}
}

// Run reads until ctx is done or the reader fails.
func (s *CRSFSource) Run(ctx context.Context) error {
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
			return fmt.Errorf("reading CRSF receiver: %w", err)
		}
	}
}

func (s *CRSFSource) feed(b byte) {
	ch, ok, err := s.parser.Feed(b)
	if err != nil {
		s.bad.Logf("discarding CRSF frame: %v", err)
		return
	}
	if !ok {
		return
	}
	for _, m := range aetrChannelMap {
		s.capture.Send(Pulse{Channel: m.dst, WidthUs: CRSFValueToMicros(ch[m.src])})
	}
}
