// Package logger configures logging for the ground station. Telemetry
// arrives at line rate, so anything logged per line (decode warnings,
// dropped fields) is sampled before it reaches the console or the log
// file, and only warnings and above are mirrored to connected clients.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// BroadcastFunc mirrors one log entry onto the subscriber channel as a
// log event.
type BroadcastFunc func(level, message, source string, fields map[string]interface{})

var (
	mu          sync.RWMutex
	global      *zap.Logger
	broadcastFn BroadcastFunc
	portLoggers sync.Map // port name -> *zap.Logger
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	LogDir string // directory for the rotated JSON log (empty = console only)

	// Rotation of the on-disk log.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Per-second sampling of repeated entries. A misconfigured decoder
	// warns on every frame at downlink rate; sampling keeps the first
	// SampleInitial occurrences each second and then one in
	// SampleThereafter. Zero SampleInitial disables sampling.
	SampleInitial    int
	SampleThereafter int

	// BroadcastLevel is the minimum level mirrored to clients.
	BroadcastLevel string
}

// DefaultConfig returns defaults for an unattended station.
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		LogDir:           "./logs",
		MaxSizeMB:        50,
		MaxBackups:       5,
		MaxAgeDays:       7,
		Compress:         true,
		SampleInitial:    10,
		SampleThereafter: 100,
		BroadcastLevel:   "warn",
	}
}

// Init installs the global logger. Any previously cached per-port loggers
// are discarded.
func Init(cfg Config) error {
	level := parseLevel(cfg.Level, zapcore.InfoLevel)

	core, err := buildCore(cfg, level)
	if err != nil {
		return err
	}
	if cfg.SampleInitial > 0 {
		core = zapcore.NewSamplerWithOptions(core, time.Second,
			cfg.SampleInitial, cfg.SampleThereafter)
	}

	// The client mirror sits outside the sampler: a detached UI must not
	// miss the warning that explains a gap in its telemetry.
	bridge := &bridgeCore{level: parseLevel(cfg.BroadcastLevel, zapcore.WarnLevel)}

	mu.Lock()
	global = zap.New(zapcore.NewTee(core, bridge), zap.AddCaller(), zap.AddCallerSkip(1))
	mu.Unlock()
	portLoggers.Range(func(k, _ interface{}) bool {
		portLoggers.Delete(k)
		return true
	})

	return nil
}

// buildCore assembles the console core and, when a log directory is
// configured, the rotated JSON file core.
func buildCore(cfg Config, level zapcore.Level) (zapcore.Core, error) {
	consoleCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stdout),
		level,
	)
	if cfg.LogDir == "" {
		return console, nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	fileCfg := consoleCfg
	fileCfg.TimeKey = "ts"
	fileCfg.CallerKey = "caller"
	fileCfg.StacktraceKey = "stacktrace"
	fileCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	fileCfg.EncodeTime = zapcore.EpochTimeEncoder
	fileCfg.EncodeCaller = zapcore.ShortCallerEncoder
	file := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileCfg),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "groundstation.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}),
		level,
	)

	return zapcore.NewTee(console, file), nil
}

func parseLevel(s string, fallback zapcore.Level) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return fallback
	}
	return level
}

// SetBroadcaster sets the hub broadcast function, once the hub exists.
func SetBroadcaster(fn BroadcastFunc) {
	mu.Lock()
	defer mu.Unlock()
	broadcastFn = fn
}

// Get returns the global logger, falling back to a development logger
// before Init (tests, early startup).
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return global
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		return global.Sync()
	}
	return nil
}

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// WithPort returns a logger carrying the serial-port context. Loggers are
// cached per port because every reader goroutine logs through one for the
// lifetime of its connection.
func WithPort(port string) *zap.Logger {
	if l, ok := portLoggers.Load(port); ok {
		return l.(*zap.Logger)
	}
	l, _ := portLoggers.LoadOrStore(port, Get().With(zap.String("port", port)))
	return l.(*zap.Logger)
}

// WithDecoder returns a logger carrying the frame-format context.
func WithDecoder(name string) *zap.Logger {
	return Get().With(zap.String("decoder", name))
}

// bridgeCore mirrors entries at or above its level to the subscriber
// channel. Delivery rides the hub's bounded per-client queues, so a slow
// client can drop log events but can never stall a reader goroutine.
type bridgeCore struct {
	level  zapcore.Level
	fields []zapcore.Field
}

func (c *bridgeCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.level
}

func (c *bridgeCore) With(fields []zapcore.Field) zapcore.Core {
	child := &bridgeCore{level: c.level}
	child.fields = append(append(child.fields, c.fields...), fields...)
	return child
}

func (c *bridgeCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		ce = ce.AddCore(entry, c)
	}
	return ce
}

func (c *bridgeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	mu.RLock()
	fn := broadcastFn
	mu.RUnlock()
	if fn == nil {
		return nil
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	source := "station"
	if s, ok := enc.Fields["source"].(string); ok {
		source = s
		delete(enc.Fields, "source")
	}

	level := entry.Level.String()
	if entry.Level > zapcore.ErrorLevel {
		level = "error"
	}

	fn(level, entry.Message, source, enc.Fields)
	return nil
}

func (c *bridgeCore) Sync() error { return nil }
