package telemetry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sentinelflight/groundstation/internal/logger"
	"go.uber.org/zap"
)

// Callback is invoked for every successfully parsed record, in registration
// order. A panicking callback is isolated and does not stop the others.
type Callback func(Record)

// Info describes the registry's current configuration, mirrored into the
// get_parser_info command response.
type Info struct {
	AvailableParsers []string `json:"available_parsers"`
	ActiveParser     string   `json:"active_parser,omitempty"`
	AutoDetect       bool     `json:"auto_detect"`
	CallbackCount    int      `json:"callback_count"`
}

// Registry holds the ordered decoder list and the detection mode.
// Auto-detection is a first-match linear scan in registration order, which
// is why ARMED is registered before SENTINEL and JSON-aware decoders come
// before anything that would accept a JSON-shaped line.
//
// Reconfiguration (register, pin, auto) is atomic with respect to in-flight
// Parse calls.
type Registry struct {
	mu        sync.RWMutex
	decoders  []Decoder
	pinned    Decoder // nil means auto-detect
	callbacks []Callback
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry returns a registry with the stock downlink decoders in
// their required order.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewArmedDecoder())
	r.Register(NewSentinelDecoder())
	r.Register(NewNMEADecoder())
	r.Register(NewJSONDecoder())
	return r
}

// Register appends a decoder. First-match order is registration order.
func (r *Registry) Register(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders = append(r.decoders, d)
	logger.Info("registered parser", zap.String("parser", d.Name()))
}

// SetPinned routes all subsequent lines to the named decoder only.
func (r *Registry) SetPinned(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.decoders {
		if d.Name() == name {
			r.pinned = d
			logger.Info("set active parser", zap.String("parser", name))
			return nil
		}
	}
	return fmt.Errorf("parser not found: %s", name)
}

// EnableAuto reverts to auto-detection.
func (r *Registry) EnableAuto() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pinned = nil
	logger.Info("enabled automatic parser detection")
}

// AddCallback registers a post-parse callback.
func (r *Registry) AddCallback(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Parse decodes a raw line using the current mode. It returns nil when no
// decoder produced a record.
func (r *Registry) Parse(line string) Record {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	r.mu.RLock()
	decoders := r.decoders
	pinned := r.pinned
	callbacks := r.callbacks
	r.mu.RUnlock()

	var rec Record
	if pinned != nil {
		rec = decodeWith(pinned, line)
	} else {
		for _, d := range decoders {
			if !d.Matches(line) {
				continue
			}
			if rec = decodeWith(d, line); rec != nil {
				break
			}
		}
	}

	if rec == nil {
		return nil
	}
	for _, cb := range callbacks {
		runCallback(cb, rec)
	}
	return rec
}

// Sentinel returns the registered SentinelDecoder, if any, for runtime
// reconfiguration.
func (r *Registry) Sentinel() *SentinelDecoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.decoders {
		if s, ok := d.(*SentinelDecoder); ok {
			return s
		}
	}
	return nil
}

// Info reports the current parser configuration.
func (r *Registry) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.decoders))
	for _, d := range r.decoders {
		names = append(names, d.Name())
	}
	info := Info{
		AvailableParsers: names,
		AutoDetect:       r.pinned == nil,
		CallbackCount:    len(r.callbacks),
	}
	if r.pinned != nil {
		info.ActiveParser = r.pinned.Name()
	}
	return info
}

func decodeWith(d Decoder, line string) Record {
	rec, err := d.Decode(line)
	if err != nil {
		if err != ErrNoMatch {
			logger.WithDecoder(d.Name()).Warn("decode failed", zap.Error(err))
		}
		return nil
	}
	return rec
}

func runCallback(cb Callback, rec Record) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("data callback panicked", zap.Any("panic", p))
		}
	}()
	cb(rec)
}
