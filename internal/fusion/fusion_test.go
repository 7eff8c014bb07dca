package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stationarySample is a resting vehicle: gravity on z, no rotation, a
// plausible magnetic field.
func stationarySample(ts float64) Sample {
	return Sample{
		Accel:     [3]float64{0, 0, 9.81},
		Gyro:      [3]float64{0, 0, 0},
		Mag:       [3]float64{22, -5, 43},
		Timestamp: ts,
	}
}

func TestEngine_StationaryConvergence(t *testing.T) {
	e := NewEngine(DefaultOptions())

	var last Orientation
	for i := 0; i < 50; i++ {
		o, err := e.Process(stationarySample(float64(i) * 0.1))
		require.NoError(t, err)
		last = o

		if i >= 20 {
			assert.Less(t, math.Abs(o.Roll), 1.0, "sample %d", i)
			assert.Less(t, math.Abs(o.Pitch), 1.0, "sample %d", i)
		}
	}

	q := last.Quaternion
	norm := q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestEngine_AngleRanges(t *testing.T) {
	e := NewEngine(DefaultOptions())

	for i := 0; i < 200; i++ {
		s := Sample{
			Accel: [3]float64{
				3 * math.Sin(float64(i)/8),
				3 * math.Cos(float64(i)/12),
				9.0,
			},
			Gyro: [3]float64{
				40 * math.Sin(float64(i)/6),
				25 * math.Cos(float64(i)/9),
				60 * math.Sin(float64(i)/4),
			},
			Mag:       [3]float64{20, -4, 41},
			Timestamp: float64(i) * 0.1,
		}
		o, err := e.Process(s)
		require.NoError(t, err)

		assert.Greater(t, o.Roll, -180.0)
		assert.LessOrEqual(t, o.Roll, 180.0)
		assert.GreaterOrEqual(t, o.Pitch, -90.0)
		assert.LessOrEqual(t, o.Pitch, 90.0)
		assert.GreaterOrEqual(t, o.Yaw, 0.0)
		assert.Less(t, o.Yaw, 360.0)

		q := o.Quaternion
		norm := q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
		assert.InDelta(t, 1.0, norm, 1e-6)
	}
}

func TestEngine_CalibrationRemovesGyroBias(t *testing.T) {
	e := NewEngine(DefaultOptions())

	samples := make([]Sample, 20)
	for i := range samples {
		samples[i] = Sample{
			Accel:     [3]float64{0.1, -0.2, 9.9},
			Gyro:      [3]float64{1.5, -2.0, 0.8},
			Mag:       [3]float64{22, -5, 43},
			Timestamp: float64(i) * 0.1,
		}
	}

	require.False(t, e.Calibrated())
	e.Calibrate(samples)
	require.True(t, e.Calibrated())

	// With the bias removed, the same steady readings must not tumble the
	// estimate.
	for i := 0; i < 30; i++ {
		o, err := e.Process(samples[0])
		require.NoError(t, err)
		assert.Less(t, math.Abs(o.Roll), 3.0, "sample %d", i)
		assert.Less(t, math.Abs(o.Pitch), 3.0, "sample %d", i)
	}
}

func TestEngine_CalibrationRequiresTenSamples(t *testing.T) {
	e := NewEngine(DefaultOptions())
	e.Calibrate(make([]Sample, 9))
	assert.False(t, e.Calibrated())
}

func TestEngine_CalibrationClampsZeroMagScale(t *testing.T) {
	e := NewEngine(DefaultOptions())

	// Constant magnetometer readings give a zero min/max spread on every
	// axis; the scale must clamp to 1 instead of dividing by zero.
	samples := make([]Sample, 12)
	for i := range samples {
		samples[i] = stationarySample(float64(i) * 0.1)
	}
	e.Calibrate(samples)
	require.True(t, e.Calibrated())

	o, err := e.Process(stationarySample(10))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(o.Roll))
	assert.False(t, math.IsNaN(o.Yaw))
}

func TestEngine_SmoothingReportsRawUntilThreeSamples(t *testing.T) {
	e := NewEngine(DefaultOptions())

	// With identical stationary input, the smoothed mean of identical
	// orientations equals the raw value, so the transition at the third
	// sample must be continuous.
	rawRoll := func() float64 {
		r, _, _ := e.madgwick.Euler()
		return r * 180 / math.Pi
	}

	o1, err := e.Process(stationarySample(0.0))
	require.NoError(t, err)
	assert.Equal(t, rawRoll(), o1.Roll)
	o2, err := e.Process(stationarySample(0.1))
	require.NoError(t, err)
	assert.Equal(t, rawRoll(), o2.Roll)
	o3, err := e.Process(stationarySample(0.2))
	require.NoError(t, err)

	assert.InDelta(t, o1.Roll, o2.Roll, 1.0)
	assert.InDelta(t, o2.Roll, o3.Roll, 1.0)
}

func TestEngine_YawSmoothingRespectsWrap(t *testing.T) {
	e := NewEngine(DefaultOptions())

	// Orientations straddling the 0/360 boundary must average near the
	// boundary, not near 180.
	hist := []Orientation{
		{Yaw: 359, Quaternion: [4]float64{1, 0, 0, 0}},
		{Yaw: 1, Quaternion: [4]float64{1, 0, 0, 0}},
		{Yaw: 359.5, Quaternion: [4]float64{1, 0, 0, 0}},
	}
	e.history = hist[:2]
	got := e.smooth(hist[2])

	distance := math.Min(got.Yaw, 360-got.Yaw)
	assert.Less(t, distance, 2.0)
}

func TestEngine_Reset(t *testing.T) {
	e := NewEngine(DefaultOptions())

	for i := 0; i < 10; i++ {
		_, err := e.Process(Sample{
			Accel:     [3]float64{2, 3, 9},
			Gyro:      [3]float64{30, -20, 10},
			Timestamp: float64(i) * 0.1,
		})
		require.NoError(t, err)
	}

	e.Reset()
	assert.Equal(t, [4]float64{1, 0, 0, 0}, e.madgwick.Quaternion())
	assert.Empty(t, e.history)
	assert.False(t, e.hasLastTS)
}

func TestEngine_ConfigureShrinksHistory(t *testing.T) {
	e := NewEngine(DefaultOptions())
	for i := 0; i < 5; i++ {
		_, err := e.Process(stationarySample(float64(i) * 0.1))
		require.NoError(t, err)
	}

	e.Configure(false, 0.2, 2)
	assert.LessOrEqual(t, len(e.history), 2)
	assert.Equal(t, 0.2, e.madgwick.Beta)
}

func TestEngine_DtClampedToMinimum(t *testing.T) {
	e := NewEngine(DefaultOptions())

	// Two samples with the same timestamp must not produce a zero or
	// negative integration step.
	_, err := e.Process(stationarySample(1.0))
	require.NoError(t, err)
	o, err := e.Process(stationarySample(1.0))
	require.NoError(t, err)

	q := o.Quaternion
	norm := q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
	assert.InDelta(t, 1.0, norm, 1e-6)
}
