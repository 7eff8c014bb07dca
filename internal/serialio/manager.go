// Package serialio owns the serial ports: enumeration, connection
// lifecycle, reads and writes, and the per-port reader goroutines that
// feed the telemetry pipeline one line at a time.
package serialio

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelflight/groundstation/internal/logger"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

const (
	defaultReadTimeout = time.Second
	joinTimeout        = 2 * time.Second
	// A reader gives up after this many consecutive read errors.
	maxConsecutiveErrors = 5
)

// PortInfo describes an enumerated serial port.
type PortInfo struct {
	Port         string `json:"port"`
	Description  string `json:"description"`
	HWID         string `json:"hwid"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	VID          string `json:"vid"`
	PID          string `json:"pid"`
}

// LineHandler receives each newline-terminated read from an open port.
// It is called from that port's reader goroutine.
type LineHandler func(port, line string)

// Options configures an open call.
type Options struct {
	BaudRate    int
	DataBits    int
	Parity      string // none, odd, even
	StopBits    int
	ReadTimeout time.Duration
}

// DefaultOptions mirrors the 8N1 defaults of the downlink radios.
func DefaultOptions(baud int) Options {
	if baud <= 0 {
		baud = 9600
	}
	return Options{
		BaudRate:    baud,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: defaultReadTimeout,
	}
}

type connection struct {
	port    serial.Port
	name    string
	opts    Options
	opened  time.Time
	healthy atomic.Bool

	readMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// Manager tracks open connections. Each connection is read by exactly one
// goroutine; command-path writes and closes go through the manager.
type Manager struct {
	mu     sync.Mutex
	conns  map[string]*connection
	onLine LineHandler
}

// NewManager creates a manager delivering lines to handler.
func NewManager(handler LineHandler) *Manager {
	return &Manager{
		conns:  make(map[string]*connection),
		onLine: handler,
	}
}

// List enumerates the serial ports available on the system.
func (m *Manager) List() []PortInfo {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		logger.Error("failed to enumerate serial ports", zap.Error(err))
		return []PortInfo{}
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Port:        d.Name,
			Description: orNA(d.Product),
			Product:     orNA(d.Product),
		}
		if d.IsUSB {
			info.VID = orNA(d.VID)
			info.PID = orNA(d.PID)
			info.HWID = fmt.Sprintf("USB VID:PID=%s:%s SER=%s", d.VID, d.PID, d.SerialNumber)
			info.Manufacturer = orNA("")
		} else {
			info.VID = "N/A"
			info.PID = "N/A"
			info.HWID = "N/A"
			info.Manufacturer = "N/A"
		}
		ports = append(ports, info)
	}

	logger.Info("enumerated serial ports", zap.Int("count", len(ports)))
	return ports
}

// Open opens a port and starts its reader goroutine. An already-open port
// is closed and reopened.
func (m *Manager) Open(name string, opts Options) error {
	if err := m.Close(name); err != nil {
		logger.Debug("reopen: previous close", zap.String("port", name), zap.Error(err))
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "even":
		mode.Parity = serial.EvenParity
	case "odd":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	conn := &connection{
		port:    port,
		name:    name,
		opts:    opts,
		opened:  time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	conn.healthy.Store(true)

	m.mu.Lock()
	m.conns[name] = conn
	m.mu.Unlock()

	go m.readLoop(conn)

	logger.Info("opened serial port",
		zap.String("port", name), zap.Int("baudrate", opts.BaudRate))
	return nil
}

// readLoop reads the port line by line until stopped or the error budget
// is exhausted. The reader holds no manager lock while blocked in Read.
func (m *Manager) readLoop(conn *connection) {
	defer close(conn.done)

	buf := make([]byte, 1024)
	var pending []byte
	errorRun := 0

	for {
		select {
		case <-conn.stop:
			return
		default:
		}

		conn.readMu.Lock()
		n, err := conn.port.Read(buf)
		conn.readMu.Unlock()

		if err != nil {
			errorRun++
			logger.WithPort(conn.name).Warn("serial read failed", zap.Error(err))
			if errorRun >= maxConsecutiveErrors {
				conn.healthy.Store(false)
				logger.WithPort(conn.name).Error("reader giving up after repeated failures")
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		errorRun = 0

		if n == 0 {
			continue // read timeout, check stop flag again
		}

		pending = append(pending, buf[:n]...)
		for {
			nl := bytes.IndexByte(pending, '\n')
			if nl < 0 {
				break
			}
			line := strings.TrimRight(string(pending[:nl]), "\r")
			pending = pending[nl+1:]
			if line != "" && m.onLine != nil {
				m.onLine(conn.name, line)
			}
		}
	}
}

// Close stops the reader (bounded join) and closes the port. Closing an
// unopened port returns an error.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	conn, ok := m.conns[name]
	if ok {
		delete(m.conns, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("port %s is not open", name)
	}

	close(conn.stop)
	select {
	case <-conn.done:
	case <-time.After(joinTimeout):
		logger.WithPort(name).Warn("reader did not stop within join timeout")
	}

	if err := conn.port.Close(); err != nil {
		return fmt.Errorf("failed to close port %s: %w", name, err)
	}
	logger.Info("closed serial port", zap.String("port", name))
	return nil
}

// CloseAll closes every open port, reporting the first error.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	m.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := m.Close(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Write sends data to an open port.
func (m *Manager) Write(name, data string) error {
	conn, err := m.get(name)
	if err != nil {
		return err
	}
	if _, err := conn.port.Write([]byte(data)); err != nil {
		return fmt.Errorf("failed to write to port %s: %w", name, err)
	}
	return nil
}

// WriteLine sends data followed by a newline.
func (m *Manager) WriteLine(name, data string) error {
	return m.Write(name, data+"\n")
}

// Read performs a direct bounded read, for the read_port command. It
// shares the read mutex with the reader goroutine.
func (m *Manager) Read(name string, numBytes int) (string, error) {
	conn, err := m.get(name)
	if err != nil {
		return "", err
	}
	if numBytes <= 0 {
		numBytes = 1024
	}

	buf := make([]byte, numBytes)
	conn.readMu.Lock()
	n, err := conn.port.Read(buf)
	conn.readMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to read from port %s: %w", name, err)
	}
	return string(buf[:n]), nil
}

// ReadLine reads up to one newline, for the read_port_line command.
func (m *Manager) ReadLine(name string) (string, error) {
	conn, err := m.get(name)
	if err != nil {
		return "", err
	}

	var line []byte
	one := make([]byte, 1)
	deadline := time.Now().Add(conn.opts.ReadTimeout)

	conn.readMu.Lock()
	defer conn.readMu.Unlock()
	for time.Now().Before(deadline) {
		n, err := conn.port.Read(one)
		if err != nil {
			return "", fmt.Errorf("failed to read line from port %s: %w", name, err)
		}
		if n == 0 {
			break
		}
		if one[0] == '\n' {
			break
		}
		line = append(line, one[0])
	}
	return strings.TrimRight(string(line), "\r"), nil
}

// IsOpen reports whether the named port is open.
func (m *Manager) IsOpen(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[name]
	return ok
}

// OpenPorts returns the names of all open ports.
func (m *Manager) OpenPorts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	return names
}

// Info returns the configuration of an open port.
func (m *Manager) Info(name string) (map[string]interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[name]
	if !ok {
		return nil, false
	}
	return map[string]interface{}{
		"port":       conn.name,
		"baudrate":   conn.opts.BaudRate,
		"bytesize":   conn.opts.DataBits,
		"parity":     conn.opts.Parity,
		"stopbits":   conn.opts.StopBits,
		"timeout":    conn.opts.ReadTimeout.Seconds(),
		"is_open":    true,
		"healthy":    conn.healthy.Load(),
		"opened_at":  conn.opened.Format(time.RFC3339),
	}, true
}

// Healthy reports whether every open port's reader is still running.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.conns {
		if !conn.healthy.Load() {
			return false
		}
	}
	return true
}

func (m *Manager) get(name string) (*connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[name]
	if !ok {
		return nil, fmt.Errorf("port %s is not open", name)
	}
	return conn, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
