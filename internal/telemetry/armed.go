package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/sentinelflight/groundstation/internal/logger"
	"go.uber.org/zap"
)

const armedTimeLayout = "01/02/2006,15:04:05"

// armedFields maps field index to name for the ARMED downlink frame:
// <MM/DD/YYYY,HH:MM:SS,altitude,accelXYZ,gyroXYZ,magXYZ,lat,lon,sats,temp>
var armedFields = [16]string{
	"date", "time", "altitude_m",
	"accel_x_mg", "accel_y_mg", "accel_z_mg",
	"gyro_x_centidps", "gyro_y_centidps", "gyro_z_centidps",
	"mag_x_decisla", "mag_y_decisla", "mag_z_decisla",
	"gps_lat_1e7", "gps_lon_1e7",
	"gps_satellites", "temperature_c",
}

// ArmedDecoder decodes ARMED-state telemetry from the flight computer.
// Example: <05/27/2025,11:43:46,0.95,-37,-967,-3,128,-27,204,6,-53,20,1,1,0,24>
type ArmedDecoder struct{}

func NewArmedDecoder() *ArmedDecoder { return &ArmedDecoder{} }

func (d *ArmedDecoder) Name() string { return "ARMED_TELEMETRY" }

func (d *ArmedDecoder) Matches(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 2 || !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return false
	}
	parts := strings.Split(line[1:len(line)-1], ",")
	if len(parts) != len(armedFields) {
		return false
	}
	_, err := time.Parse(armedTimeLayout, parts[0]+","+parts[1])
	return err == nil
}

func (d *ArmedDecoder) Decode(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if !d.Matches(line) {
		return nil, ErrNoMatch
	}

	parts := strings.Split(line[1:len(line)-1], ",")
	rec := make(Record, 40)

	for i, raw := range parts {
		name := armedFields[i]
		v, err := convertArmedField(name, strings.TrimSpace(raw))
		if err != nil {
			logger.WithDecoder(d.Name()).Warn("field conversion failed",
				zap.String("field", name), zap.String("value", raw))
			continue
		}
		rec[name] = v
	}

	if date, ok := rec.String("date"); ok {
		if tod, ok := rec.String("time"); ok {
			if dt, err := time.ParseInLocation(armedTimeLayout, date+","+tod, time.UTC); err == nil {
				rec["datetime"] = dt.Format("2006-01-02T15:04:05")
				rec["timestamp"] = float64(dt.Unix())
			}
		}
	}

	if lat, ok := rec.Int("gps_lat_1e7"); ok {
		if lon, ok := rec.Int("gps_lon_1e7"); ok {
			rec["gps_lat_deg"] = float64(lat) / 1e7
			rec["gps_lon_deg"] = float64(lon) / 1e7
			if sats, ok := rec.Int("gps_satellites"); ok {
				rec["gps_valid"] = gpsValid(lat, lon, sats)
			}
		}
	}

	deriveScaled(rec, "accel_%s_mg", "accel_%s_g", 1000.0)
	deriveScaled(rec, "gyro_%s_centidps", "gyro_%s_dps", 100.0)
	deriveScaled(rec, "mag_%s_decisla", "mag_%s_ut", 10.0)

	rec.stamp(d.Name(), line)
	rec[KeyState] = "ARMED"
	return rec, nil
}

func convertArmedField(name, value string) (interface{}, error) {
	switch name {
	case "date", "time":
		return value, nil
	case "altitude_m":
		return strconv.ParseFloat(value, 64)
	default:
		return strconv.ParseInt(value, 10, 64)
	}
}

// gpsValid applies the fix heuristic: enough satellites and coordinates
// clear of the 0.01-degree dead zone around the null island default.
func gpsValid(lat1e7, lon1e7, satellites int64) bool {
	return satellites >= 4 && abs64(lat1e7) > 100000 && abs64(lon1e7) > 100000
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// deriveScaled emits the unit-converted triple (x, y, z) when all three raw
// integer components are present.
func deriveScaled(rec Record, rawPattern, outPattern string, divisor float64) {
	axes := [3]string{"x", "y", "z"}
	var vals [3]float64
	for i, axis := range axes {
		v, ok := rec.Int(strings.Replace(rawPattern, "%s", axis, 1))
		if !ok {
			return
		}
		vals[i] = float64(v) / divisor
	}
	for i, axis := range axes {
		rec[strings.Replace(outPattern, "%s", axis, 1)] = vals[i]
	}
}
