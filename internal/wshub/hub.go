// Package wshub fans pipeline events out to connected clients and routes
// their commands back to the serial, parser and fusion subsystems.
package wshub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sentinelflight/groundstation/internal/logger"
	"github.com/sentinelflight/groundstation/internal/metrics"
	"github.com/sentinelflight/groundstation/internal/telemetry"
	"go.uber.org/zap"
)

// Subscriber is one attached client. Send must not block the caller: a
// transport implementation enqueues into a bounded buffer, drops the event
// when that buffer is full, and reports a hard failure (closed connection)
// with an error, which detaches the subscriber.
type Subscriber interface {
	ID() string
	Send(data []byte) error
	Close()
}

// Hub maintains the subscriber set. Publishing marshals each event once
// and attempts best-effort delivery to every subscriber; a failing
// subscriber is detached without affecting the others.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]Subscriber
	metrics *metrics.Metrics
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]Subscriber),
		metrics: m,
	}
}

// Attach adds a subscriber.
func (h *Hub) Attach(s Subscriber) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return
	}
	h.subs[s.ID()] = s
	count := len(h.subs)
	h.mu.Unlock()
	logger.Info("subscriber attached", zap.String("id", s.ID()), zap.Int("total", count))
}

// Detach removes a subscriber. Detaching twice is a no-op the second time.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		s.Close()
		logger.Info("subscriber detached", zap.String("id", id), zap.Int("total", count))
	}
}

// Count returns the number of attached subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish serializes the event once and delivers it to every current
// subscriber. The caller is never blocked: Send is a bounded enqueue, and
// subscribers whose Send fails are detached after the fan-out.
func (h *Hub) Publish(event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var failed []string
	for _, s := range targets {
		if err := s.Send(data); err != nil {
			logger.Warn("subscriber send failed",
				zap.String("id", s.ID()), zap.Error(err))
			failed = append(failed, s.ID())
		}
	}
	for _, id := range failed {
		h.Detach(id)
	}

	if h.metrics != nil {
		h.metrics.IncEventsPublished()
	}
}

// PublishConsole emits the raw-line console event. Part of the pipeline
// Sink contract: it is always called before the matching telemetry event.
func (h *Hub) PublishConsole(port, line string) {
	h.Publish(map[string]interface{}{
		"type":      "console_data",
		"port":      port,
		"data":      line,
		"timestamp": unixSeconds(),
	})
}

// PublishTelemetry emits the decoded-record event.
func (h *Hub) PublishTelemetry(port string, rec telemetry.Record) {
	h.Publish(map[string]interface{}{
		"type":      "telemetry_data",
		"port":      port,
		"data":      rec,
		"timestamp": unixSeconds(),
	})
}

// PublishLog mirrors a log entry to subscribers; wired as the logger's
// broadcast function.
func (h *Hub) PublishLog(level, message, source string, fields map[string]interface{}) {
	event := map[string]interface{}{
		"type":      "log",
		"level":     level,
		"message":   message,
		"source":    source,
		"timestamp": unixSeconds(),
	}
	if len(fields) > 0 {
		event["fields"] = fields
	}
	h.Publish(event)
}

// PublishStatus emits the periodic station status event.
func (h *Hub) PublishStatus(ports []string, uptimeSeconds int64) {
	h.Publish(map[string]interface{}{
		"type":           "status",
		"ports":          ports,
		"clients":        h.Count(),
		"uptime_seconds": uptimeSeconds,
		"timestamp":      unixSeconds(),
	})
}

// Close detaches every subscriber and refuses new attachments.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func unixSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
