package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParserProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parsers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
parsers:
  - name: PIPE_TELEMETRY
    delimiter: "|"
    fields: [seq, voltage, current]
  - delimiter: ";"
`), 0644))

	profiles, err := LoadParserProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, "PIPE_TELEMETRY", profiles[0].Name)
	assert.Equal(t, "|", profiles[0].Delimiter)
	assert.Equal(t, []string{"seq", "voltage", "current"}, profiles[0].Fields)
	assert.Empty(t, profiles[1].Name)
}

func TestLoadParserProfiles_EmptyPath(t *testing.T) {
	profiles, err := LoadParserProfiles("")
	assert.NoError(t, err)
	assert.Nil(t, profiles)
}

func TestLoadParserProfiles_MissingDelimiter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parsers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
parsers:
  - name: BROKEN
    fields: [a, b]
`), 0644))

	_, err := LoadParserProfiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delimiter")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 9600, cfg.Serial.DefaultBaudRate)
	assert.True(t, cfg.Fusion.UseMagnetometer)
	assert.Equal(t, 0.1, cfg.Fusion.MadgwickBeta)
	assert.Equal(t, 5, cfg.Fusion.SmoothingWindow)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "@every 15s", cfg.Status.Schedule)
}
