package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/lucasjlepore/wheelspeed"
	"github.com/lucasjlepore/wheelspeed/power"
)

// Config is the complete configuration for the speed sensor tools.
type Config struct {
	Rider   RiderConfig   `yaml:"rider"`
	Trainer TrainerConfig `yaml:"trainer"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
}

// RiderConfig holds the rider's physical settings.
type RiderConfig struct {
	WeightKG     float64 `yaml:"weight_kg"`
	BikeWeightKG float64 `yaml:"bike_weight_kg"`
}

// TrainerConfig holds wheel and resistance settings.
type TrainerConfig struct {
	WheelSizeMM    float64 `yaml:"wheel_size_mm"`
	Resistance     int     `yaml:"resistance"`
	PowerProfile   string  `yaml:"power_profile"`
	SimulatedSpeed bool    `yaml:"simulated_speed"`
}

// SensorConfig holds the ANT USB stick settings.
type SensorConfig struct {
	Port         string `yaml:"port"`
	BaudRate     int    `yaml:"baud_rate"`
	Channel      uint8  `yaml:"channel"`
	DeviceNumber uint16 `yaml:"device_number"` // 0 pairs with any sensor
	NetworkKey   string `yaml:"network_key"`   // 16 hex digits, empty for the public network
	RFFrequency  uint8  `yaml:"rf_frequency"`  // offset from 2400 MHz
}

// OutputConfig controls ride artifacts.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Format    string `yaml:"format"` // parquet|csv
	FIT       bool   `yaml:"fit"`
	Overwrite bool   `yaml:"overwrite"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text|json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load builds the configuration from defaults, then path when non-empty, then
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Rider: RiderConfig{
			WeightKG:     80,
			BikeWeightKG: 10,
		},
		Trainer: TrainerConfig{
			WheelSizeMM:  2133,
			Resistance:   1,
			PowerProfile: power.DefaultProfile,
		},
		Sensor: SensorConfig{
			BaudRate:    57600,
			RFFrequency: 57,
		},
		Output: OutputConfig{
			Dir:    "rides",
			Format: "parquet",
			FIT:    true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	if port := os.Getenv("WHEELSPEED_SERIAL_PORT"); port != "" {
		cfg.Sensor.Port = port
	}
	if level := os.Getenv("WHEELSPEED_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if sim := os.Getenv("WHEELSPEED_SIMULATED_SPEED"); sim != "" {
		v, err := strconv.ParseBool(sim)
		if err != nil {
			return fmt.Errorf("WHEELSPEED_SIMULATED_SPEED: %w", err)
		}
		cfg.Trainer.SimulatedSpeed = v
	}
	if dir := os.Getenv("WHEELSPEED_OUTPUT_DIR"); dir != "" {
		cfg.Output.Dir = dir
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Trainer.WheelSizeMM <= 0 {
		return fmt.Errorf("wheel size %v mm must be positive", c.Trainer.WheelSizeMM)
	}
	if c.Trainer.Resistance < 1 {
		return fmt.Errorf("resistance level %d must be at least 1", c.Trainer.Resistance)
	}
	if c.Rider.WeightKG <= 0 || c.Rider.BikeWeightKG < 0 {
		return fmt.Errorf("invalid weights: rider=%v kg, bike=%v kg", c.Rider.WeightKG, c.Rider.BikeWeightKG)
	}
	if _, err := power.Lookup(c.Trainer.PowerProfile); err != nil {
		return err
	}
	if c.Sensor.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Sensor.BaudRate)
	}
	if c.Sensor.RFFrequency > 124 {
		return fmt.Errorf("rf frequency offset %d is outside [0, 124]", c.Sensor.RFFrequency)
	}
	if _, err := c.Sensor.Key(); err != nil {
		return err
	}
	switch strings.ToLower(c.Output.Format) {
	case "parquet", "csv":
	default:
		return fmt.Errorf("invalid output format %q, must be one of: parquet, csv", c.Output.Format)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be one of: text, json", c.Log.Format)
	}
	return nil
}

// Key decodes the network key. A nil key selects the public network.
func (s SensorConfig) Key() ([]byte, error) {
	if s.NetworkKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s.NetworkKey), "0x"))
	if err != nil || len(key) != 8 {
		return nil, fmt.Errorf("network key must be 16 hex digits")
	}
	return key, nil
}

// MassKG is the rider plus bike mass.
func (c *Config) MassKG() float64 {
	return c.Rider.WeightKG + c.Rider.BikeWeightKG
}

// EngineConfig resolves the session snapshot the engine starts with.
func (c *Config) EngineConfig() (wheelspeed.Config, error) {
	profile, err := power.Lookup(c.Trainer.PowerProfile)
	if err != nil {
		return wheelspeed.Config{}, err
	}
	return wheelspeed.Config{
		WheelCircumferenceCM: c.Trainer.WheelSizeMM / 10,
		ResistanceLevel:      c.Trainer.Resistance,
		MassKG:               c.MassKG(),
		SimulatedSpeed:       c.Trainer.SimulatedSpeed,
		PowerModel:           profile,
	}, nil
}

// Settings implements wheelspeed.SettingsSource.
func (c *Config) Settings() (wheelspeed.Config, error) {
	return c.EngineConfig()
}
