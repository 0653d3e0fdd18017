package sensors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/BryanSouza91/QuadFC/internal/flight"
)

const radToDeg = 180 / math.Pi

// KalmanFilter estimates pitch and roll from gyro rates and the gravity
// vector.
//
// State X: [pitch, roll] in radians.
// Measurement Z: [pitch, roll] derived from the accelerometer.
type KalmanFilter struct {
	X *mat.VecDense // estimated state

	P *mat.Dense     // estimate error covariance
	Q *mat.DiagDense // process noise covariance
	R *mat.DiagDense // measurement noise covariance

	F *mat.Dense // state transition
	H *mat.Dense // observation
}

// NewKalmanFilter returns a filter starting level with unit covariance.
func NewKalmanFilter() *KalmanFilter {
	return &KalmanFilter{
		X: mat.NewVecDense(2, nil),
		P: identity(2),
		// The gyro is trusted over the accelerometer, which sees vibration.
		Q: mat.NewDiagDense(2, []float64{0.01, 0.01}),
		R: mat.NewDiagDense(2, []float64{0.5, 0.5}),
		F: identity(2),
		H: identity(2),
	}
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Predict integrates the gyro rates (rad/s) over dt seconds. Pitch follows
// the Y axis rate and roll the X axis rate.
func (kf *KalmanFilter) Predict(gyroX, gyroY, dt float64) {
	u := mat.NewVecDense(2, []float64{gyroY * dt, gyroX * dt})
	var fx mat.VecDense
	fx.MulVec(kf.F, kf.X)
	kf.X.AddVec(&fx, u)

	// P = F P F^T + Q
	var fp, fpft mat.Dense
	fp.Mul(kf.F, kf.P)
	fpft.Mul(&fp, kf.F.T())
	kf.P.Add(&fpft, kf.Q)
}

// Update corrects the state with the angles measured by the
// accelerometer.
func (kf *KalmanFilter) Update(accelPitch, accelRoll float64) error {
	z := mat.NewVecDense(2, []float64{accelPitch, accelRoll})

	// Innovation y = z - H x
	var hx, y mat.VecDense
	hx.MulVec(kf.H, kf.X)
	y.SubVec(z, &hx)

	// S = H P H^T + R
	var pht, s mat.Dense
	pht.Mul(kf.P, kf.H.T())
	s.Mul(kf.H, &pht)
	s.Add(&s, kf.R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("kalman innovation covariance: %w", err)
	}

	// K = P H^T S^-1
	var k mat.Dense
	k.Mul(&pht, &sInv)

	// X = X + K y
	var ky mat.VecDense
	ky.MulVec(&k, &y)
	kf.X.AddVec(kf.X, &ky)

	// P = (I - K H) P
	var kh, ikh, p mat.Dense
	kh.Mul(&k, kf.H)
	ikh.Sub(identity(2), &kh)
	p.Mul(&ikh, kf.P)
	kf.P.Copy(&p)
	return nil
}

// Pitch returns the estimated pitch in radians.
func (kf *KalmanFilter) Pitch() float64 { return kf.X.AtVec(0) }

// Roll returns the estimated roll in radians.
func (kf *KalmanFilter) Roll() float64 { return kf.X.AtVec(1) }

// Estimator is the default attitude estimator: a Kalman filter for pitch
// and roll and an integrated gyro rate for yaw. Yaw drifts; there is no
// magnetometer correction.
type Estimator struct {
	kf     *KalmanFilter
	yawRad float64
}

func NewEstimator() *Estimator {
	return &Estimator{kf: NewKalmanFilter()}
}

// Estimate implements stabilizer.AttitudeEstimator. Angles are returned in
// degrees, yaw wrapped to [-180, 180).
func (e *Estimator) Estimate(loopTimeMs uint32, r flight.SensorReadings) flight.Attitude {
	dt := float64(loopTimeMs) / 1000

	e.kf.Predict(r.Gyro.X, r.Gyro.Y, dt)
	if r.Accel != (flight.Vector{}) {
		// A failed update keeps the prediction.
		_ = e.kf.Update(pitchAccel(r.Accel), rollAccel(r.Accel))
	}

	e.yawRad = wrapPi(e.yawRad + r.Gyro.Z*dt)

	return flight.Attitude{
		Pitch: e.kf.Pitch() * radToDeg,
		Roll:  e.kf.Roll() * radToDeg,
		Yaw:   e.yawRad * radToDeg,
	}
}

func wrapPi(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
