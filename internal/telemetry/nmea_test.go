package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gpggaLine = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"

func TestNMEADecoder_Matches(t *testing.T) {
	d := NewNMEADecoder()

	assert.True(t, d.Matches(gpggaLine))
	assert.True(t, d.Matches("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"))
	assert.False(t, d.Matches("no dollar sign*47"))
	assert.False(t, d.Matches("$GPGGA,no,star"))
}

func TestNMEADecoder_DecodeGPGGA(t *testing.T) {
	d := NewNMEADecoder()

	rec, err := d.Decode(gpggaLine)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "NMEA_GPS", rec[KeyParser])
	assert.Equal(t, "$GPGGA", rec["sentence_type"])
	assert.Contains(t, rec, "raw_fields")

	lat, _ := rec.Float("latitude")
	lon, _ := rec.Float("longitude")
	assert.InDelta(t, 48.1173, lat, 1e-4)
	assert.InDelta(t, 11.5167, lon, 1e-4)

	assert.Equal(t, int64(1), rec["fix_quality"])
	assert.Equal(t, int64(8), rec["satellites"])
	assert.InDelta(t, 0.9, rec["hdop"], 1e-9)
	assert.InDelta(t, 545.4, rec["altitude"], 1e-9)
	assert.Equal(t, "123519", rec["time"])
}

func TestNMEADecoder_Checksum(t *testing.T) {
	d := NewNMEADecoder()

	rec, err := d.Decode(gpggaLine)
	require.NoError(t, err)
	valid, ok := rec.Bool("checksum_valid")
	require.True(t, ok)
	assert.True(t, valid)

	rec, err = d.Decode("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00")
	require.NoError(t, err)
	valid, ok = rec.Bool("checksum_valid")
	require.True(t, ok)
	assert.False(t, valid)
}

func TestConvertCoordinate(t *testing.T) {
	tests := []struct {
		coord     string
		direction string
		want      float64
		ok        bool
	}{
		{"4807.038", "N", 48.1173, true},
		{"4807.038", "S", -48.1173, true},
		{"01131.000", "E", 11.5167, true},
		{"01131.000", "W", -11.5167, true},
		{"", "N", 0, false},
		{"12", "N", 0, false},
		{"4807.038", "", 0, false},
	}

	for _, tt := range tests {
		got, ok := convertCoordinate(tt.coord, tt.direction)
		assert.Equal(t, tt.ok, ok, "coord %q", tt.coord)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-4, "coord %q", tt.coord)
		}
	}
}

func TestNMEADecoder_NonGPGGASentence(t *testing.T) {
	d := NewNMEADecoder()

	rec, err := d.Decode("$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48")
	require.NoError(t, err)
	assert.Equal(t, "$GPVTG", rec["sentence_type"])
	assert.NotContains(t, rec, "latitude")
}
