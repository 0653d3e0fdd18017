// Package flight holds the value types passed between the stages of the
// control pipeline.
package flight

// FlightCommand is a requested attitude and thrust.
// Pitch, roll and yaw are degrees (-100..100 when decoded from RC),
// throttle is a percentage 0..100.
type FlightCommand struct {
	Pitch    float64
	Roll     float64
	Yaw      float64
	Throttle uint8
}

// Attitude is the measured orientation in degrees.
type Attitude struct {
	Pitch float64
	Roll  float64
	Yaw   float64
}

// MotorOutputs holds the duty percentage of each motor.
type MotorOutputs struct {
	North float64
	South float64
	East  float64
	West  float64
}

// Vector is a three axis sensor reading.
type Vector struct {
	X, Y, Z float64
}

// SensorReadings groups the raw vectors consumed by the attitude estimator.
type SensorReadings struct {
	Accel Vector // m/s^2
	Gyro  Vector // rad/s
	Mag   Vector // arbitrary units, zero when no magnetometer is fitted
}

// GpsData is a position fix.
type GpsData struct {
	Latitude  float64 // degrees, north positive
	Longitude float64 // degrees, east positive
	AltMeters float64
}

// Var is one named entry of a telemetry snapshot.
type Var struct {
	Name  string
	Value any
}
