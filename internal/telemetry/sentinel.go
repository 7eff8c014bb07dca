package telemetry

import (
	"strconv"
	"strings"
	"sync"

	"github.com/sentinelflight/groundstation/internal/logger"
	"go.uber.org/zap"
)

// defaultSentinelFields is the stock field order of the bare-CSV downlink.
var defaultSentinelFields = map[int]string{
	0: "timestamp", 1: "satellites", 2: "pressure", 3: "temp",
	4: "accel_x", 5: "accel_y", 6: "accel_z",
	7: "gyro_x", 8: "gyro_y", 9: "gyro_z",
	10: "latitude", 11: "longitude", 12: "alt_gps", 13: "alt_bmp",
}

// SentinelDecoder decodes the bare comma-separated rocket telemetry frame.
// The field mapping is reconfigurable at runtime via the
// configure_sentinel_parser command.
//
// Its Matches is loose (any line with ten or more comma-separated fields,
// excluding the unmistakable NMEA and JSON lead bytes), so it must be
// registered after the ARMED decoder: a bracketed ARMED frame also has >=10
// commas and registration order is the tiebreak.
type SentinelDecoder struct {
	mu     sync.RWMutex
	fields map[int]string
}

func NewSentinelDecoder() *SentinelDecoder {
	fields := make(map[int]string, len(defaultSentinelFields))
	for k, v := range defaultSentinelFields {
		fields[k] = v
	}
	return &SentinelDecoder{fields: fields}
}

func (d *SentinelDecoder) Name() string { return "SENTINEL_TELEMETRY" }

func (d *SentinelDecoder) Matches(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	// NMEA sentences and JSON objects have plenty of commas too; leave
	// them to their own decoders regardless of registration order.
	if strings.HasPrefix(line, "$") || strings.HasPrefix(line, "{") {
		return false
	}
	return len(strings.Split(line, ",")) >= 10
}

func (d *SentinelDecoder) Decode(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if !d.Matches(line) {
		return nil, ErrNoMatch
	}

	d.mu.RLock()
	fields := make(map[int]string, len(d.fields))
	for k, v := range d.fields {
		fields[k] = v
	}
	d.mu.RUnlock()

	parts := strings.Split(line, ",")
	rec := make(Record, len(fields)+4)

	for i, raw := range parts {
		name, ok := fields[i]
		if !ok {
			continue
		}
		v, err := convertSentinelField(name, strings.TrimSpace(raw))
		if err != nil {
			logger.WithDecoder(d.Name()).Warn("field conversion failed",
				zap.String("field", name), zap.String("value", raw))
			continue
		}
		rec[name] = v
	}

	rec.stamp(d.Name(), line)
	return rec, nil
}

// Configure merges a new index-to-name mapping into the decoder.
func (d *SentinelDecoder) Configure(mapping map[int]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for idx, name := range mapping {
		d.fields[idx] = name
	}
}

func convertSentinelField(name, value string) (interface{}, error) {
	switch name {
	case "timestamp":
		return value, nil
	case "satellites":
		return strconv.ParseInt(value, 10, 64)
	default:
		return strconv.ParseFloat(value, 64)
	}
}
