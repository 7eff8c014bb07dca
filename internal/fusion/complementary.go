package fusion

import "math"

// Complementary blends integrated gyro rates (high frequency) with
// accelerometer-derived angles (low frequency). It runs alongside the
// Madgwick filter as an independent sanity channel and does not feed back
// into it.
type Complementary struct {
	// Alpha is the blend coefficient, 0.9 to 0.99 typical.
	Alpha float64

	Roll  float64 // rad
	Pitch float64 // rad
}

// NewComplementary returns a filter with both angles at zero.
func NewComplementary(alpha float64) *Complementary {
	return &Complementary{Alpha: alpha}
}

// Update advances the filter. accel is in m/s², gyro in rad/s.
func (c *Complementary) Update(accel, gyro [3]float64, dt float64) {
	accelRoll := math.Atan2(accel[1], accel[2])
	accelPitch := math.Atan2(-accel[0], math.Sqrt(accel[1]*accel[1]+accel[2]*accel[2]))

	c.Roll += gyro[0] * dt
	c.Pitch += gyro[1] * dt

	c.Roll = c.Alpha*c.Roll + (1-c.Alpha)*accelRoll
	c.Pitch = c.Alpha*c.Pitch + (1-c.Alpha)*accelPitch

	c.Roll = math.Mod(c.Roll+math.Pi, 2*math.Pi) - math.Pi
	c.Pitch = math.Max(-math.Pi/2, math.Min(math.Pi/2, c.Pitch))
}

// Reset zeroes both angles.
func (c *Complementary) Reset() {
	c.Roll = 0
	c.Pitch = 0
}
