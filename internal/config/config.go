// Package config loads the encoder-monitor daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/sweeney/shaft-encoder/internal/encoder"
	"github.com/sweeney/shaft-encoder/internal/gpio"
)

// Config is the daemon configuration. Keys absent from a file keep their
// defaults.
type Config struct {
	PinA     int    `yaml:"pin_a"`
	PinB     int    `yaml:"pin_b"`
	PinIndex int    `yaml:"pin_index"` // -1 for no index channel
	PPR      int    `yaml:"ppr"`
	Pull     string `yaml:"pull"`
	Chip     string `yaml:"chip"`
	Units    int    `yaml:"units"` // counting units available on the chip

	Poll        time.Duration `yaml:"poll"`
	DeadbandDeg float64       `yaml:"deadband_deg"`
	Heartbeat   time.Duration `yaml:"heartbeat"`

	Broker   string `yaml:"broker"`
	HTTP     string `yaml:"http"`
	ClientID string `yaml:"client_id"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PinA:        17,
		PinB:        27,
		PinIndex:    encoder.NoIndex,
		PPR:         600,
		Pull:        gpio.PullInternal.String(),
		Chip:        gpio.DefaultChip,
		Units:       8,
		Poll:        100 * time.Millisecond,
		DeadbandDeg: 0.5,
		Heartbeat:   15 * time.Minute,
		Broker:      "tcp://localhost:1883",
		HTTP:        ":80",
		ClientID:    "encoder-monitor",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := c.Encoder(); err != nil {
		return err
	}
	if c.Units <= 0 {
		return fmt.Errorf("config: units must be positive, got %d", c.Units)
	}
	if c.Poll <= 0 {
		return fmt.Errorf("config: poll must be positive, got %s", c.Poll)
	}
	if c.DeadbandDeg < 0 || c.DeadbandDeg >= 180 {
		return fmt.Errorf("config: deadband_deg must be in [0, 180), got %g", c.DeadbandDeg)
	}
	if c.Heartbeat < 0 {
		return errors.New("config: heartbeat must not be negative")
	}
	if c.Broker == "" {
		return errors.New("config: broker is required")
	}
	return nil
}

// Encoder returns the encoder configuration.
func (c Config) Encoder() (encoder.Config, error) {
	pull, err := gpio.ParsePull(c.Pull)
	if err != nil {
		return encoder.Config{}, fmt.Errorf("config: %w", err)
	}
	ec := encoder.Config{
		PinA:     c.PinA,
		PinB:     c.PinB,
		PPR:      c.PPR,
		PinIndex: c.PinIndex,
		Pull:     pull,
	}
	if err := ec.Validate(); err != nil {
		return encoder.Config{}, err
	}
	return ec, nil
}

// Marshal renders the configuration in use as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(&c)
}
