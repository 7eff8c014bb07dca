package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quatNorm(q [4]float64) float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}

// rollQuaternion builds a pure roll rotation of the given angle in degrees.
func rollQuaternion(deg float64) [4]float64 {
	half := deg * math.Pi / 360
	return [4]float64{math.Cos(half), math.Sin(half), 0, 0}
}

func TestMadgwick_QuaternionStaysUnitNorm(t *testing.T) {
	m := NewMadgwick(0.1)
	mag := [3]float64{22, -5, 43}

	for i := 0; i < 500; i++ {
		gyro := [3]float64{0.1 * float64(i%7), -0.05, 0.02}
		accel := [3]float64{0.3, -0.2, 9.7}
		m.Update(gyro, accel, &mag, 0.1)

		require.InDelta(t, 1.0, quatNorm(m.Quaternion()), 1e-6, "iteration %d", i)
	}
}

func TestMadgwick_ZeroAccelLeavesEstimateUnchanged(t *testing.T) {
	m := NewMadgwick(0.1)
	m.SetQuaternion(rollQuaternion(30))
	before := m.Quaternion()

	m.Update([3]float64{0.1, 0.2, 0.3}, [3]float64{0, 0, 0}, nil, 0.1)
	assert.Equal(t, before, m.Quaternion())
}

func TestMadgwick_ConvergesToLevelFromTilt(t *testing.T) {
	m := NewMadgwick(0.1)
	m.SetQuaternion(rollQuaternion(5))

	for i := 0; i < 40; i++ {
		m.Update([3]float64{0, 0, 0}, [3]float64{0, 0, 1}, nil, 0.1)
	}

	roll, pitch, _ := m.Euler()
	assert.Less(t, math.Abs(roll*180/math.Pi), 1.0)
	assert.Less(t, math.Abs(pitch*180/math.Pi), 1.0)
	assert.InDelta(t, 1.0, quatNorm(m.Quaternion()), 1e-6)
}

func TestMadgwick_EulerRanges(t *testing.T) {
	m := NewMadgwick(0.2)
	mag := [3]float64{18, 3, 40}

	for i := 0; i < 300; i++ {
		gyro := [3]float64{
			2 * math.Sin(float64(i)/9),
			1.5 * math.Cos(float64(i)/13),
			3 * math.Sin(float64(i)/5),
		}
		accel := [3]float64{
			2 * math.Sin(float64(i)/7),
			2 * math.Cos(float64(i)/11),
			9.0,
		}
		m.Update(gyro, accel, &mag, 0.05)

		roll, pitch, yaw := m.Euler()
		assert.GreaterOrEqual(t, roll, -math.Pi)
		assert.LessOrEqual(t, roll, math.Pi)
		assert.GreaterOrEqual(t, pitch, -math.Pi/2)
		assert.LessOrEqual(t, pitch, math.Pi/2)
		assert.GreaterOrEqual(t, yaw, -math.Pi)
		assert.LessOrEqual(t, yaw, math.Pi)
	}
}

func TestMadgwick_PitchSaturates(t *testing.T) {
	m := NewMadgwick(0.1)
	// Pure +90° pitch puts asin's argument at exactly 1.
	half := math.Pi / 4
	m.SetQuaternion([4]float64{math.Cos(half), 0, math.Sin(half), 0})

	_, pitch, _ := m.Euler()
	assert.InDelta(t, math.Pi/2, pitch, 1e-9)
}

func TestMadgwick_Reset(t *testing.T) {
	m := NewMadgwick(0.1)
	m.SetQuaternion(rollQuaternion(60))
	m.Reset()
	assert.Equal(t, [4]float64{1, 0, 0, 0}, m.Quaternion())
}
