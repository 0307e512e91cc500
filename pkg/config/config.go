// Package config loads the fbridge CLI configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that (un)marshals YAML in the usual
// "250ms" / "5s" syntax.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Serial holds serial transport settings.
type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// BLE holds Bluetooth transport settings.
type BLE struct {
	// Name is the advertisement local-name substring to scan for.
	Name string `yaml:"name"`
}

// Config holds the fbridge configuration.
type Config struct {
	Transport      string   `yaml:"transport"` // "serial" or "ble"
	Serial         Serial   `yaml:"serial"`
	BLE            BLE      `yaml:"ble"`
	MaxFrameLen    int      `yaml:"max_frame_len"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// DefaultPath returns the default config file path: ~/.fbridge/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fbridge", "config.yaml")
	}
	return filepath.Join(home, ".fbridge", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns a default Config with no error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Transport: "serial",
		Serial: Serial{
			Port: "/dev/ttyACM0",
			Baud: 115200,
		},
		BLE: BLE{
			Name: "Flipper",
		},
		MaxFrameLen:    1536,
		RequestTimeout: Duration(5 * time.Second),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
