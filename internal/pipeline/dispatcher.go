// Package pipeline glues the downlink together: every serial line becomes a
// console event, is run through the parser registry, enriched with an
// orientation estimate when it carries the IMU cluster, and published as a
// telemetry event.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentinelflight/groundstation/internal/fusion"
	"github.com/sentinelflight/groundstation/internal/logger"
	"github.com/sentinelflight/groundstation/internal/metrics"
	"github.com/sentinelflight/groundstation/internal/telemetry"
	"go.uber.org/zap"
)

// imuFields is the cluster that triggers sensor fusion.
var imuFields = []string{
	"accel_x_g", "accel_y_g", "accel_z_g",
	"gyro_x_dps", "gyro_y_dps", "gyro_z_dps",
}

// Sink receives the events a dispatcher produces. The console event for a
// line is always published before its telemetry event.
type Sink interface {
	PublishConsole(port, line string)
	PublishTelemetry(port string, rec telemetry.Record)
}

// Dispatcher drives one line through the decode-fuse-publish chain. It is
// stateless apart from the per-port fusion engines. HandleLine is called
// from each port's reader goroutine; engines are keyed by port so
// concurrent ports never interleave updates within one filter state.
type Dispatcher struct {
	registry *telemetry.Registry
	sink     Sink
	metrics  *metrics.Metrics

	mu         sync.Mutex
	engines    map[string]*fusion.Engine
	fusionOpts fusion.Options
}

// New creates a dispatcher publishing into sink.
func New(registry *telemetry.Registry, sink Sink, m *metrics.Metrics, opts fusion.Options) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		sink:       sink,
		metrics:    m,
		engines:    make(map[string]*fusion.Engine),
		fusionOpts: opts,
	}
}

// HandleLine processes one newline-terminated read from a serial port.
func (d *Dispatcher) HandleLine(port, line string) {
	d.metrics.IncLinesReceived()
	d.sink.PublishConsole(port, line)

	rec := d.registry.Parse(line)
	if rec == nil {
		d.metrics.IncRecognizerMiss()
		return
	}
	d.metrics.IncRecordsParsed()

	rec[telemetry.KeySourcePort] = port
	d.fuse(port, rec)
	d.sink.PublishTelemetry(port, rec)
}

// fuse runs the record through the port's fusion engine when the IMU
// cluster is present. Fusion faults degrade the record to its unaugmented
// form; they never suppress it.
func (d *Dispatcher) fuse(port string, rec telemetry.Record) {
	if !rec.HasAll(imuFields...) {
		return
	}

	sample := fusion.Sample{}
	for i, axis := range [3]string{"x", "y", "z"} {
		g, _ := rec.Float("accel_" + axis + "_g")
		sample.Accel[i] = g * fusion.Gravity
		sample.Gyro[i], _ = rec.Float("gyro_" + axis + "_dps")
		sample.Mag[i], _ = rec.Float("mag_" + axis + "_ut")
	}

	// Records without a numeric timestamp fall back to wall-clock, which
	// ties dt to processing latency; acceptable live, not replay-safe.
	if ts, ok := rec.Float("timestamp"); ok {
		sample.Timestamp = ts
	} else {
		sample.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}

	o, err := func() (o fusion.Orientation, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("sensor fusion panicked: %v", p)
			}
		}()
		return d.engineFor(port).Process(sample)
	}()
	if err != nil {
		d.metrics.IncFusionErrors()
		logger.Warn("sensor fusion failed", zap.String("port", port), zap.Error(err))
		return
	}

	rec["orientation_roll"] = o.Roll
	rec["orientation_pitch"] = o.Pitch
	rec["orientation_yaw"] = o.Yaw
	rec["quaternion_w"] = o.Quaternion[0]
	rec["quaternion_x"] = o.Quaternion[1]
	rec["quaternion_y"] = o.Quaternion[2]
	rec["quaternion_z"] = o.Quaternion[3]
	rec["_sensor_fusion"] = true
	rec["_fusion_algorithm"] = "Madgwick"
}

func (d *Dispatcher) engineFor(port string) *fusion.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.engines[port]
	if !ok {
		e = fusion.NewEngine(d.fusionOpts)
		d.engines[port] = e
	}
	return e
}

// ConfigureFusion applies the tuning to the defaults for future ports and
// to every live engine.
func (d *Dispatcher) ConfigureFusion(useMag bool, beta float64, smoothingWindow int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fusionOpts.UseMagnetometer = useMag
	d.fusionOpts.Beta = beta
	if smoothingWindow > 0 {
		d.fusionOpts.SmoothingWindow = smoothingWindow
	}
	for _, e := range d.engines {
		e.Configure(useMag, beta, smoothingWindow)
	}
	logger.Info("sensor fusion configured",
		zap.Bool("use_magnetometer", useMag),
		zap.Float64("beta", beta),
		zap.Int("smoothing_window", smoothingWindow))
}

// ResetFusion resets every live engine to the identity orientation.
func (d *Dispatcher) ResetFusion() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.engines {
		e.Reset()
	}
}

// EngineCount reports how many per-port engines are live.
func (d *Dispatcher) EngineCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.engines)
}
