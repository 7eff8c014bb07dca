// Package fusion estimates vehicle orientation from IMU samples using a
// Madgwick AHRS filter with a complementary filter as a parallel sanity
// channel, plus stationary calibration and display smoothing.
package fusion

import (
	"fmt"
	"math"
	"sync"

	"github.com/sentinelflight/groundstation/internal/logger"
)

// Gravity in m/s², used to convert accelerometer g readings.
const Gravity = 9.81

// Sample is one IMU reading.
type Sample struct {
	Accel     [3]float64 // m/s²
	Gyro      [3]float64 // deg/s
	Mag       [3]float64 // µT, all zero when absent
	Timestamp float64    // seconds
}

// Orientation is the fused attitude estimate. Roll is in (-180, 180],
// pitch in [-90, 90], yaw in [0, 360). Quaternion is w, x, y, z.
type Orientation struct {
	Roll       float64
	Pitch      float64
	Yaw        float64
	Quaternion [4]float64
}

// Options configures an Engine.
type Options struct {
	UseMagnetometer bool
	SampleRate      float64 // Hz, sets the nominal dt for the first sample
	Beta            float64 // Madgwick gain
	Alpha           float64 // complementary blend coefficient
	SmoothingWindow int     // orientation history length
}

// DefaultOptions matches the flight-proven tuning: 10 Hz nominal rate,
// beta 0.1, alpha 0.98, 5-sample smoothing, magnetometer on.
func DefaultOptions() Options {
	return Options{
		UseMagnetometer: true,
		SampleRate:      10.0,
		Beta:            0.1,
		Alpha:           0.98,
		SmoothingWindow: 5,
	}
}

// Engine fuses IMU samples into orientation for one telemetry source.
// Process is driven from a single pipeline goroutine per source;
// Configure and Reset may arrive concurrently from the command path, so
// all state is guarded.
type Engine struct {
	mu sync.Mutex

	opts     Options
	madgwick *Madgwick
	comp     *Complementary

	accelBias [3]float64
	gyroBias  [3]float64
	magBias   [3]float64
	magScale  [3]float64

	history    []Orientation
	lastTS     float64
	hasLastTS  bool
	calibrated bool
}

// NewEngine returns an engine at the identity orientation.
func NewEngine(opts Options) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 10.0
	}
	if opts.SmoothingWindow <= 0 {
		opts.SmoothingWindow = 5
	}
	return &Engine{
		opts:     opts,
		madgwick: NewMadgwick(opts.Beta),
		comp:     NewComplementary(opts.Alpha),
		magScale: [3]float64{1, 1, 1},
	}
}

// Calibrate derives sensor biases from stationary samples. Fewer than 10
// samples is a no-op. Gyro bias is the mean rate; accel bias is the mean
// reading with the gravity magnitude removed from z so a resting sensor
// reads +g; the magnetometer gets a min/max hard-iron correction.
func (e *Engine) Calibrate(samples []Sample) {
	if len(samples) < 10 {
		logger.Warn("not enough samples for calibration")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var accelSum, gyroSum [3]float64
	var accelMagSum float64
	magMin := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	magMax := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	magAllZero := true

	for _, s := range samples {
		for i := 0; i < 3; i++ {
			accelSum[i] += s.Accel[i]
			gyroSum[i] += s.Gyro[i]
			magMin[i] = math.Min(magMin[i], s.Mag[i])
			magMax[i] = math.Max(magMax[i], s.Mag[i])
			if s.Mag[i] != 0 {
				magAllZero = false
			}
		}
		accelMagSum += vecNorm(s.Accel)
	}

	n := float64(len(samples))
	for i := 0; i < 3; i++ {
		e.gyroBias[i] = gyroSum[i] / n
		e.accelBias[i] = accelSum[i] / n
	}
	e.accelBias[2] -= accelMagSum / n

	if e.opts.UseMagnetometer && !magAllZero {
		for i := 0; i < 3; i++ {
			e.magBias[i] = (magMax[i] + magMin[i]) / 2
			e.magScale[i] = (magMax[i] - magMin[i]) / 2
			if e.magScale[i] == 0 {
				e.magScale[i] = 1
			}
		}
	}

	e.calibrated = true
	logger.Info("sensor calibration completed")
}

// Calibrated reports whether Calibrate has run.
func (e *Engine) Calibrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calibrated
}

// Process fuses one sample into the orientation estimate. On a numeric
// fault the previous estimate and timestamp are preserved and an error is
// returned; the caller emits the record without orientation fields.
func (e *Engine) Process(s Sample) (Orientation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var accel, gyro [3]float64
	for i := 0; i < 3; i++ {
		accel[i] = s.Accel[i] - e.accelBias[i]
		gyro[i] = (s.Gyro[i] - e.gyroBias[i]) * math.Pi / 180
	}

	var mag *[3]float64
	if e.opts.UseMagnetometer && (s.Mag[0] != 0 || s.Mag[1] != 0 || s.Mag[2] != 0) {
		m := [3]float64{}
		for i := 0; i < 3; i++ {
			m[i] = (s.Mag[i] - e.magBias[i]) / e.magScale[i]
		}
		mag = &m
	}

	dt := 1 / e.opts.SampleRate
	if e.hasLastTS {
		dt = math.Max(s.Timestamp-e.lastTS, 0.001)
	}

	prev := e.madgwick.Quaternion()
	e.madgwick.Update(gyro, accel, mag, dt)

	q := e.madgwick.Quaternion()
	if math.IsNaN(q[0]) || math.IsNaN(q[1]) || math.IsNaN(q[2]) || math.IsNaN(q[3]) {
		e.madgwick.SetQuaternion(prev)
		return Orientation{}, fmt.Errorf("orientation update diverged")
	}

	e.lastTS = s.Timestamp
	e.hasLastTS = true

	e.comp.Update(accel, gyro, dt)

	rollRad, pitchRad, yawRad := e.madgwick.Euler()
	o := Orientation{
		Roll:       rollRad * 180 / math.Pi,
		Pitch:      pitchRad * 180 / math.Pi,
		Yaw:        yawRad * 180 / math.Pi,
		Quaternion: q,
	}
	if o.Yaw < 0 {
		o.Yaw += 360
	}

	return e.smooth(o), nil
}

// smooth maintains the bounded orientation history and returns a
// linearly-weighted moving average of the angles (more recent samples
// weigh more). Yaw is averaged through sin/cos to respect the wrap. The
// quaternion stays the latest raw estimate; smoothing is display-only.
func (e *Engine) smooth(o Orientation) Orientation {
	e.history = append(e.history, o)
	if len(e.history) > e.opts.SmoothingWindow {
		e.history = e.history[len(e.history)-e.opts.SmoothingWindow:]
	}
	if len(e.history) < 3 {
		return o
	}

	n := len(e.history)
	weights := make([]float64, n)
	var total float64
	for i := range weights {
		weights[i] = 0.5 + 0.5*float64(i)/float64(n-1)
		total += weights[i]
	}

	var roll, pitch, yawSin, yawCos float64
	for i, h := range e.history {
		w := weights[i] / total
		roll += h.Roll * w
		pitch += h.Pitch * w
		yawSin += math.Sin(h.Yaw*math.Pi/180) * w
		yawCos += math.Cos(h.Yaw*math.Pi/180) * w
	}

	yaw := math.Atan2(yawSin, yawCos) * 180 / math.Pi
	if yaw < 0 {
		yaw += 360
	}

	return Orientation{
		Roll:       roll,
		Pitch:      pitch,
		Yaw:        yaw,
		Quaternion: o.Quaternion,
	}
}

// Reset returns the filters to the identity orientation and clears the
// smoothing history and timestamp tracking. Calibration is retained.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.madgwick.Reset()
	e.comp.Reset()
	e.history = nil
	e.hasLastTS = false
	logger.Info("sensor fusion reset")
}

// Configure adjusts the runtime-tunable parameters.
func (e *Engine) Configure(useMag bool, beta float64, smoothingWindow int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.UseMagnetometer = useMag
	e.madgwick.Beta = beta
	e.opts.Beta = beta
	if smoothingWindow > 0 {
		e.opts.SmoothingWindow = smoothingWindow
		if len(e.history) > smoothingWindow {
			e.history = e.history[len(e.history)-smoothingWindow:]
		}
	}
}
