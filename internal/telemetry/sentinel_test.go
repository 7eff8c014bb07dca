package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sentinelLine = "2025-06-03 14:30:15,12,1013.25,25.6,9.81,0.15,-0.32,0.01,-0.02,0.03,45.123456,-75.987654,850.5,848.2"

func TestSentinelDecoder_Matches(t *testing.T) {
	d := NewSentinelDecoder()

	assert.True(t, d.Matches(sentinelLine))
	assert.True(t, d.Matches("a,b,c,d,e,f,g,h,i,j"))
	assert.True(t, d.Matches(armedLine))
	assert.False(t, d.Matches("a,b,c"))
	assert.False(t, d.Matches(""))
	assert.False(t, d.Matches(gpggaLine))
	assert.False(t, d.Matches(`{"a":1,"b":2,"c":3,"d":4,"e":5,"f":6,"g":7,"h":8,"i":9,"j":10}`))
}

func TestSentinelDecoder_Decode(t *testing.T) {
	d := NewSentinelDecoder()

	rec, err := d.Decode(sentinelLine)
	require.NoError(t, err)

	assert.Equal(t, "SENTINEL_TELEMETRY", rec[KeyParser])
	assert.Equal(t, "2025-06-03 14:30:15", rec["timestamp"])
	assert.Equal(t, int64(12), rec["satellites"])
	assert.InDelta(t, 1013.25, rec["pressure"], 1e-9)
	assert.InDelta(t, 9.81, rec["accel_x"], 1e-9)
	assert.InDelta(t, 45.123456, rec["latitude"], 1e-9)
	assert.InDelta(t, 848.2, rec["alt_bmp"], 1e-9)
}

func TestSentinelDecoder_Configure(t *testing.T) {
	d := NewSentinelDecoder()
	d.Configure(map[int]string{2: "baro_hpa"})

	rec, err := d.Decode(sentinelLine)
	require.NoError(t, err)
	assert.InDelta(t, 1013.25, rec["baro_hpa"], 1e-9)
	assert.NotContains(t, rec, "pressure")
}

func TestSentinelDecoder_BadFieldDegrades(t *testing.T) {
	d := NewSentinelDecoder()

	rec, err := d.Decode("2025-06-03 14:30:15,notanint,1013.25,25.6,9.81,0.15,-0.32,0.01,-0.02,0.03,45.1,-75.9,850.5,848.2")
	require.NoError(t, err)
	assert.NotContains(t, rec, "satellites")
	assert.Contains(t, rec, "pressure")
}
