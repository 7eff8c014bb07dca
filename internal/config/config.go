package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ground station.
type Config struct {
	Server Server `mapstructure:"server"`
	Serial Serial `mapstructure:"serial"`
	Parser Parser `mapstructure:"parser"`
	Fusion Fusion `mapstructure:"fusion"`
	MQTT   MQTT   `mapstructure:"mqtt"`
	Logger Logger `mapstructure:"logger"`
	Status Status `mapstructure:"status"`
}

// Server contains HTTP/WebSocket server settings.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Serial contains downlink port settings.
type Serial struct {
	DefaultBaudRate int `mapstructure:"default_baud_rate"`
	ReadTimeoutMS   int `mapstructure:"read_timeout_ms"`
}

// Parser contains decoder settings.
type Parser struct {
	ProfilePath string `mapstructure:"profile_path"`
}

// Fusion contains orientation filter tuning.
type Fusion struct {
	UseMagnetometer    bool    `mapstructure:"use_magnetometer"`
	SampleRate         float64 `mapstructure:"sample_rate"`
	MadgwickBeta       float64 `mapstructure:"madgwick_beta"`
	ComplementaryAlpha float64 `mapstructure:"complementary_alpha"`
	SmoothingWindow    int     `mapstructure:"smoothing_window"`
}

// MQTT contains the optional telemetry egress bridge settings.
type MQTT struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
}

// Logger contains logging settings.
type Logger struct {
	Level  string `mapstructure:"level"`
	LogDir string `mapstructure:"log_dir"`
}

// Status contains the periodic status broadcast settings.
type Status struct {
	Schedule string `mapstructure:"schedule"` // cron spec, e.g. "@every 15s"
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults
	}

	v.SetEnvPrefix("GROUNDSTATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)

	v.SetDefault("serial.default_baud_rate", 9600)
	v.SetDefault("serial.read_timeout_ms", 1000)

	v.SetDefault("parser.profile_path", "")

	v.SetDefault("fusion.use_magnetometer", true)
	v.SetDefault("fusion.sample_rate", 10.0)
	v.SetDefault("fusion.madgwick_beta", 0.1)
	v.SetDefault("fusion.complementary_alpha", 0.98)
	v.SetDefault("fusion.smoothing_window", 5)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "groundstation/telemetry")
	v.SetDefault("mqtt.client_id", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.log_dir", "./logs")

	v.SetDefault("status.schedule", "@every 15s")
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".groundstation")
}
