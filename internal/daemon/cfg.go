package daemon

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/borislavmatvey/netmap/common/logging"
	"github.com/borislavmatvey/netmap/internal/ptnetmap"
)

// Config is the daemon's top-level configuration: logging, and the set
// of passthrough sessions to create on startup.
type Config struct {
	Logging  logging.Config    `yaml:"logging"`
	Sessions []ptnetmap.Config `yaml:"sessions"`
}

// DefaultConfig returns a Config with sensible defaults: info-level
// logging and no sessions preconfigured.
func DefaultConfig() Config {
	return Config{
		Logging: logging.Config{Level: 0}, // zapcore.InfoLevel
	}
}

// LoadConfig reads and parses a YAML configuration file, starting from
// DefaultConfig so omitted fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
