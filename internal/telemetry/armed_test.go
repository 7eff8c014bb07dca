package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const armedLine = "<05/27/2025,11:43:46,0.95,-37,-967,-3,128,-27,204,6,-53,20,1,1,0,24>"

func TestArmedDecoder_Matches(t *testing.T) {
	d := NewArmedDecoder()

	tests := []struct {
		name string
		line string
		want bool
	}{
		{"happy path", armedLine, true},
		{"missing brackets", "05/27/2025,11:43:46,0.95,-37,-967,-3,128,-27,204,6,-53,20,1,1,0,24", false},
		{"wrong field count", "<05/27/2025,11:43:46,0.95,-37>", false},
		{"bad date", "<99/99/2025,11:43:46,0.95,-37,-967,-3,128,-27,204,6,-53,20,1,1,0,24>", false},
		{"empty", "", false},
		{"json shaped", `{"temp":25.6}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Matches(tt.line))
		})
	}
}

func TestArmedDecoder_Decode(t *testing.T) {
	d := NewArmedDecoder()

	rec, err := d.Decode(armedLine)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "ARMED_TELEMETRY", rec[KeyParser])
	assert.Equal(t, armedLine, rec[KeyRaw])
	assert.Equal(t, "ARMED", rec[KeyState])
	assert.Contains(t, rec, KeyParsedAt)

	assert.Equal(t, 0.95, rec["altitude_m"])
	assert.Equal(t, int64(-37), rec["accel_x_mg"])
	assert.Equal(t, int64(24), rec["temperature_c"])

	assert.InDelta(t, -0.037, rec["accel_x_g"], 1e-12)
	assert.InDelta(t, -0.27, rec["gyro_y_dps"], 1e-12)
	assert.InDelta(t, 2.0, rec["mag_z_ut"], 1e-12)
	assert.InDelta(t, 1e-7, rec["gps_lat_deg"], 1e-20)

	assert.Equal(t, int64(0), rec["gps_satellites"])
	assert.Equal(t, false, rec["gps_valid"])
	assert.Equal(t, "2025-05-27T11:43:46", rec["datetime"])
	assert.Contains(t, rec, "timestamp")
}

func TestArmedDecoder_UnitConversions(t *testing.T) {
	d := NewArmedDecoder()

	rec, err := d.Decode("<01/02/2026,08:30:00,120.5,1500,-2500,980,12345,-6789,100,250,-30,7,451234567,-751234567,9,18>")
	require.NoError(t, err)

	accelMg, _ := rec.Int("accel_x_mg")
	accelG, _ := rec.Float("accel_x_g")
	assert.Equal(t, float64(accelMg)/1000.0, accelG)

	gyroRaw, _ := rec.Int("gyro_x_centidps")
	gyroDps, _ := rec.Float("gyro_x_dps")
	assert.Equal(t, float64(gyroRaw)/100.0, gyroDps)

	magRaw, _ := rec.Int("mag_x_decisla")
	magUt, _ := rec.Float("mag_x_ut")
	assert.Equal(t, float64(magRaw)/10.0, magUt)

	lat, _ := rec.Int("gps_lat_1e7")
	latDeg, _ := rec.Float("gps_lat_deg")
	assert.Equal(t, float64(lat)/1e7, latDeg)

	valid, _ := rec.Bool("gps_valid")
	assert.True(t, valid)
}

func TestArmedDecoder_GPSValidity(t *testing.T) {
	tests := []struct {
		name       string
		lat, lon   int64
		satellites int64
		want       bool
	}{
		{"all valid", 451234567, -751234567, 8, true},
		{"too few satellites", 451234567, -751234567, 3, false},
		{"lat in dead zone", 50000, -751234567, 8, false},
		{"lon in dead zone", 451234567, -100000, 8, false},
		{"boundary satellites", 451234567, -751234567, 4, true},
		{"all zero", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gpsValid(tt.lat, tt.lon, tt.satellites))
		})
	}
}

func TestArmedDecoder_FieldConversionFailureDegrades(t *testing.T) {
	d := NewArmedDecoder()

	// A corrupt accel field is dropped, the record is still produced, and
	// the derived g triple is withheld because the cluster is incomplete.
	rec, err := d.Decode("<05/27/2025,11:43:46,0.95,bad,-967,-3,128,-27,204,6,-53,20,1,1,0,24>")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.NotContains(t, rec, "accel_x_mg")
	assert.NotContains(t, rec, "accel_x_g")
	assert.Contains(t, rec, "accel_y_mg")
	assert.Contains(t, rec, "gyro_x_dps")
}

func TestArmedDecoder_NoMatchReturnsError(t *testing.T) {
	d := NewArmedDecoder()
	rec, err := d.Decode("not telemetry")
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Nil(t, rec)
}
