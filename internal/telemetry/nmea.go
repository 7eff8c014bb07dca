package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// NMEADecoder decodes NMEA 0183 sentences. Every sentence yields at least
// sentence_type and raw_fields; GPGGA sentences additionally get a full
// position decode with the DDMM.MMMM coordinates converted to decimal
// degrees. When a checksum is present it is verified and reported as
// checksum_valid without suppressing the record.
type NMEADecoder struct{}

func NewNMEADecoder() *NMEADecoder { return &NMEADecoder{} }

func (d *NMEADecoder) Name() string { return "NMEA_GPS" }

func (d *NMEADecoder) Matches(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "$") && strings.Contains(line, "*")
}

func (d *NMEADecoder) Decode(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if !d.Matches(line) {
		return nil, ErrNoMatch
	}

	body := line
	var checksum string
	if star := strings.LastIndex(line, "*"); star >= 0 {
		body = line[:star]
		checksum = line[star+1:]
	}

	parts := strings.Split(body, ",")
	rec := Record{
		"sentence_type": parts[0],
		"raw_fields":    parts,
	}

	if len(checksum) == 2 {
		rec["checksum_valid"] = nmeaChecksum(body[1:]) == strings.ToUpper(checksum)
	}

	if parts[0] == "$GPGGA" {
		d.decodeGPGGA(parts, rec)
	}

	rec.stamp(d.Name(), line)
	return rec, nil
}

func (d *NMEADecoder) decodeGPGGA(parts []string, rec Record) {
	if len(parts) > 1 && parts[1] != "" {
		rec["time"] = parts[1]
	}
	if len(parts) > 3 {
		if lat, ok := convertCoordinate(parts[2], parts[3]); ok {
			rec["latitude"] = lat
		}
	}
	if len(parts) > 5 {
		if lon, ok := convertCoordinate(parts[4], parts[5]); ok {
			rec["longitude"] = lon
		}
	}
	rec["fix_quality"] = intField(parts, 6)
	rec["satellites"] = intField(parts, 7)
	if len(parts) > 8 && parts[8] != "" {
		if v, err := strconv.ParseFloat(parts[8], 64); err == nil {
			rec["hdop"] = v
		}
	}
	if len(parts) > 9 && parts[9] != "" {
		if v, err := strconv.ParseFloat(parts[9], 64); err == nil {
			rec["altitude"] = v
		}
	}
}

// convertCoordinate turns an NMEA DDMM.MMMM (or DDDMM.MMMM) coordinate plus
// hemisphere into signed decimal degrees.
func convertCoordinate(coord, direction string) (float64, bool) {
	if len(coord) < 4 || direction == "" {
		return 0, false
	}

	split := strings.Index(coord, ".")
	if split < 0 {
		split = len(coord)
	}
	split -= 2 // last two digits before the decimal point are minutes
	if split < 1 {
		return 0, false
	}

	degrees, err := strconv.ParseInt(coord[:split], 10, 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(coord[split:], 64)
	if err != nil {
		return 0, false
	}

	decimal := float64(degrees) + minutes/60.0
	if direction == "S" || direction == "W" {
		decimal = -decimal
	}
	return decimal, true
}

func nmeaChecksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("%02X", sum)
}

func intField(parts []string, idx int) int64 {
	if idx >= len(parts) || parts[idx] == "" {
		return 0
	}
	v, err := strconv.ParseInt(parts[idx], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
