package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	geo "github.com/paulmach/go.geo"

	"github.com/BryanSouza91/QuadFC/internal/config"
	"github.com/BryanSouza91/QuadFC/internal/flight"
	"github.com/BryanSouza91/QuadFC/internal/monitoring"
	"github.com/BryanSouza91/QuadFC/internal/quadcopter"
	"github.com/BryanSouza91/QuadFC/internal/timeutil"
)

const (
	maxNmeaLength     = 192
	minSatsForLock    = 3
	gpsTimeoutLogEach = 3 * 60
)

// GpsTask reads NMEA sentences from a 1 Hz GPS receiver.
type GpsTask struct {
	q     *quadcopter.Quadcopter
	port  io.Reader
	clock timeutil.Clock

	pending    []byte
	timeoutLog monitoring.RateLimited
}

// NewGpsTask reads from port, which must return from Read periodically
// when no data arrives.
func NewGpsTask(q *quadcopter.Quadcopter, port io.Reader, clock timeutil.Clock) *GpsTask {
	return &GpsTask{
		q:          q,
		port:       port,
		clock:      clock,
		timeoutLog: monitoring.RateLimited{Every: gpsTimeoutLogEach},
	}
}

func (g *GpsTask) Name() string { return "gps" }

func (g *GpsTask) Priority() int { return config.PriorityGps }

func (g *GpsTask) Period() time.Duration { return 0 }

func (g *GpsTask) Init(context.Context) error { return nil }

// Run waits up to config.GpsTimeout for one sentence. A timeout or a
// read error drops the GPS lock.
func (g *GpsTask) Run(ctx context.Context) error {
	deadline := g.clock.Now().Add(config.GpsTimeout)
	var buf [64]byte
	for {
		if line, ok := g.nextLine(); ok {
			g.handle(line)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if !g.clock.Now().Before(deadline) {
			g.timeoutLog.Logf("error: GPS data not received within %v", config.GpsTimeout)
			g.q.SetGpsStatus(false)
			return nil
		}

		n, err := g.port.Read(buf[:])
		g.pending = append(g.pending, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			g.q.SetGpsStatus(false)
			return fmt.Errorf("reading GPS: %w", err)
		}
	}
}

func (g *GpsTask) nextLine() (string, bool) {
	i := bytes.IndexByte(g.pending, '\n')
	if i < 0 {
		if len(g.pending) > maxNmeaLength {
			g.pending = g.pending[:0]
		}
		return "", false
	}
	line := strings.TrimRight(string(g.pending[:i]), "\r")
	g.pending = g.pending[i+1:]
	return line, true
}

func (g *GpsTask) handle(line string) {
	fix, locked, ok := ParseGPGGA(line)
	if !ok {
		return
	}
	g.q.SetCurrentGpsCoordinates(fix)
	g.q.SetGpsStatus(locked)

	if dst, set := g.q.DestinationGpsCoordinates(); set && locked {
		distance, bearing := DestinationVector(fix, dst)
		g.q.SetDestinationVector(distance, bearing)
	}
}

// ParseGPGGA decodes a $GPGGA sentence. Coordinates are converted from
// NMEA ddmm.mmmm to signed decimal degrees. locked reports at least three
// satellites in use.
//
//	$GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
func ParseGPGGA(line string) (fix flight.GpsData, locked, ok bool) {
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Split(line, ",")
	if len(fields) < 10 || fields[0] != "$GPGGA" {
		return fix, false, false
	}

	fix.Latitude = nmeaDegrees(fields[2], fields[3] == "S")
	fix.Longitude = nmeaDegrees(fields[4], fields[5] == "W")
	fix.AltMeters, _ = strconv.ParseFloat(fields[9], 64)
	sats, _ := strconv.Atoi(fields[7])
	return fix, sats >= minSatsForLock, true
}

func nmeaDegrees(s string, negative bool) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	deg := math.Floor(v / 100)
	deg += (v - deg*100) / 60
	if negative {
		deg = -deg
	}
	return deg
}

// DestinationVector returns the great circle distance in meters and the
// initial bearing in degrees [0, 360) from one fix to another.
func DestinationVector(from, to flight.GpsData) (distanceM, bearingDeg float64) {
	a := geo.NewPoint(from.Longitude, from.Latitude)
	b := geo.NewPoint(to.Longitude, to.Latitude)
	distanceM = a.GeoDistanceFrom(b, true)
	bearingDeg = math.Mod(a.BearingTo(b)+360, 360)
	return distanceM, bearingDeg
}
