package fusion

import "math"

// Madgwick implements the gradient-descent orientation filter over unit
// quaternions, in both the 6-DOF IMU form and the 9-DOF AHRS form.
//
// Madgwick, S. (2010). An efficient orientation filter for inertial and
// inertial/magnetic sensor arrays.
type Madgwick struct {
	// Beta is the algorithm gain, trading gyro drift correction speed
	// against accelerometer noise sensitivity. Typical range 0.1 to 0.5.
	Beta float64

	q [4]float64 // w, x, y, z
}

// NewMadgwick returns a filter at the identity orientation.
func NewMadgwick(beta float64) *Madgwick {
	return &Madgwick{Beta: beta, q: [4]float64{1, 0, 0, 0}}
}

// Quaternion returns the current orientation estimate (w, x, y, z).
func (m *Madgwick) Quaternion() [4]float64 { return m.q }

// SetQuaternion overrides the orientation estimate, renormalizing the input.
func (m *Madgwick) SetQuaternion(q [4]float64) {
	m.q = quatNormalize(q)
}

// Reset returns the filter to the identity orientation.
func (m *Madgwick) Reset() {
	m.q = [4]float64{1, 0, 0, 0}
}

// Update advances the filter by dt seconds. gyro is in rad/s; accel in any
// consistent unit; mag may be nil to select the 6-DOF IMU form. An
// all-zero accelerometer sample leaves the estimate unchanged.
func (m *Madgwick) Update(gyro, accel [3]float64, mag *[3]float64, dt float64) {
	q := m.q

	an := vecNorm(accel)
	if an == 0 {
		return
	}
	accel = vecScale(accel, 1/an)

	var step [4]float64
	if mag != nil && vecNorm(*mag) > 0 {
		mv := vecScale(*mag, 1/vecNorm(*mag))

		// Reference direction of Earth's magnetic field: rotate the
		// measurement into the world frame and flatten it onto the
		// horizontal plane plus vertical component.
		h := quatMultiply(q, quatMultiply([4]float64{0, mv[0], mv[1], mv[2]}, quatConjugate(q)))
		b := [4]float64{0, math.Sqrt(h[1]*h[1] + h[2]*h[2]), 0, h[3]}

		f := [6]float64{
			2*(q[1]*q[3]-q[0]*q[2]) - accel[0],
			2*(q[0]*q[1]+q[2]*q[3]) - accel[1],
			2*(0.5-q[1]*q[1]-q[2]*q[2]) - accel[2],
			2*b[1]*(0.5-q[2]*q[2]-q[3]*q[3]) + 2*b[3]*(q[1]*q[3]-q[0]*q[2]) - mv[0],
			2*b[1]*(q[1]*q[2]-q[0]*q[3]) + 2*b[3]*(q[0]*q[1]+q[2]*q[3]) - mv[1],
			2*b[1]*(q[0]*q[2]+q[1]*q[3]) + 2*b[3]*(0.5-q[1]*q[1]-q[2]*q[2]) - mv[2],
		}

		j := [6][4]float64{
			{-2 * q[2], 2 * q[3], -2 * q[0], 2 * q[1]},
			{2 * q[1], 2 * q[0], 2 * q[3], 2 * q[2]},
			{0, -4 * q[1], -4 * q[2], 0},
			{-2 * b[3] * q[2], 2 * b[3] * q[3], -4*b[1]*q[2] - 2*b[3]*q[0], -4*b[1]*q[3] + 2*b[3]*q[1]},
			{-2*b[1]*q[3] + 2*b[3]*q[1], 2*b[1]*q[2] + 2*b[3]*q[0], 2*b[1]*q[1] + 2*b[3]*q[3], -2*b[1]*q[0] + 2*b[3]*q[2]},
			{2 * b[1] * q[2], 2*b[1]*q[3] - 4*b[3]*q[1], 2*b[1]*q[0] - 4*b[3]*q[2], 2 * b[1] * q[1]},
		}

		for col := 0; col < 4; col++ {
			for row := 0; row < 6; row++ {
				step[col] += j[row][col] * f[row]
			}
		}
	} else {
		f := [3]float64{
			2*(q[1]*q[3]-q[0]*q[2]) - accel[0],
			2*(q[0]*q[1]+q[2]*q[3]) - accel[1],
			2*(0.5-q[1]*q[1]-q[2]*q[2]) - accel[2],
		}

		j := [3][4]float64{
			{-2 * q[2], 2 * q[3], -2 * q[0], 2 * q[1]},
			{2 * q[1], 2 * q[0], 2 * q[3], 2 * q[2]},
			{0, -4 * q[1], -4 * q[2], 0},
		}

		for col := 0; col < 4; col++ {
			for row := 0; row < 3; row++ {
				step[col] += j[row][col] * f[row]
			}
		}
	}

	stepNorm := math.Sqrt(step[0]*step[0] + step[1]*step[1] + step[2]*step[2] + step[3]*step[3])

	qDot := quatScale(quatMultiply(q, [4]float64{0, gyro[0], gyro[1], gyro[2]}), 0.5)
	if stepNorm > 0 {
		step = quatScale(step, 1/stepNorm)
		for i := range qDot {
			qDot[i] -= m.Beta * step[i]
		}
	}

	for i := range q {
		q[i] += qDot[i] * dt
	}
	m.q = quatNormalize(q)
}

// Euler extracts the Tait-Bryan angles in radians: roll about x, pitch
// about y (saturated to ±π/2), yaw about z.
func (m *Madgwick) Euler() (roll, pitch, yaw float64) {
	w, x, y, z := m.q[0], m.q[1], m.q[2], m.q[3]

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinp := 2 * (w*y - z*x)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

func quatMultiply(a, b [4]float64) [4]float64 {
	return [4]float64{
		a[0]*b[0] - a[1]*b[1] - a[2]*b[2] - a[3]*b[3],
		a[0]*b[1] + a[1]*b[0] + a[2]*b[3] - a[3]*b[2],
		a[0]*b[2] - a[1]*b[3] + a[2]*b[0] + a[3]*b[1],
		a[0]*b[3] + a[1]*b[2] - a[2]*b[1] + a[3]*b[0],
	}
}

func quatConjugate(q [4]float64) [4]float64 {
	return [4]float64{q[0], -q[1], -q[2], -q[3]}
}

func quatScale(q [4]float64, s float64) [4]float64 {
	return [4]float64{q[0] * s, q[1] * s, q[2] * s, q[3] * s}
}

func quatNormalize(q [4]float64) [4]float64 {
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 {
		return [4]float64{1, 0, 0, 0}
	}
	return quatScale(q, 1/n)
}

func vecNorm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func vecScale(v [3]float64, s float64) [3]float64 {
	return [3]float64{v[0] * s, v[1] * s, v[2] * s}
}
