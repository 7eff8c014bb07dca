// Package metrics tracks pipeline throughput counters for the embedding
// UI's diagnostics view.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Metrics holds pipeline and system counters.
type Metrics struct {
	// Pipeline counters
	LinesReceived   int64 `json:"lines_received"`
	RecordsParsed   int64 `json:"records_parsed"`
	RecognizerMiss  int64 `json:"recognizer_misses"`
	FusionErrors    int64 `json:"fusion_errors"`
	EventsPublished int64 `json:"events_published"`
	EventsDropped   int64 `json:"events_dropped"`

	// Command counters
	CommandsHandled int64 `json:"commands_handled"`
	CommandErrors   int64 `json:"command_errors"`

	// System counters
	Uptime         int64  `json:"uptime_seconds"`
	MemoryUsed     uint64 `json:"memory_used_bytes"`
	GoroutineCount int    `json:"goroutine_count"`

	mu        sync.RWMutex
	startTime time.Time
}

// New creates a Metrics instance.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) IncLinesReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesReceived++
}

func (m *Metrics) IncRecordsParsed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordsParsed++
}

func (m *Metrics) IncRecognizerMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecognizerMiss++
}

func (m *Metrics) IncFusionErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FusionErrors++
}

func (m *Metrics) IncEventsPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsPublished++
}

func (m *Metrics) IncEventsDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsDropped++
}

func (m *Metrics) IncCommandsHandled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommandsHandled++
}

func (m *Metrics) IncCommandErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommandErrors++
}

// Snapshot refreshes the system counters and returns a copy.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Uptime = int64(time.Since(m.startTime).Seconds())
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsed = memStats.Alloc
	m.GoroutineCount = runtime.NumGoroutine()

	return Metrics{
		LinesReceived:   m.LinesReceived,
		RecordsParsed:   m.RecordsParsed,
		RecognizerMiss:  m.RecognizerMiss,
		FusionErrors:    m.FusionErrors,
		EventsPublished: m.EventsPublished,
		EventsDropped:   m.EventsDropped,
		CommandsHandled: m.CommandsHandled,
		CommandErrors:   m.CommandErrors,
		Uptime:          m.Uptime,
		MemoryUsed:      m.MemoryUsed,
		GoroutineCount:  m.GoroutineCount,
	}
}

// Handler returns a fiber handler serving the metrics snapshot as JSON.
func (m *Metrics) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(m.Snapshot())
	}
}
