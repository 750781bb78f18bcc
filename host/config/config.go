// Package config loads the host tool settings: built-in defaults, then an
// optional YAML file, then IIOCTL_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"iioboard/host/serial"
)

const (
	ConfigDir  = ".iioboard"
	ConfigFile = "iioctl.yml"
	EnvPrefix  = "IIOCTL_"
)

// ErrConfigFileExists is returned by Persist when it would overwrite
var ErrConfigFileExists = errors.New("config file exists")

// HTTPConfig is the serve command's listener
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// CaptureConfig holds capture defaults
type CaptureConfig struct {
	// Dir receives FITS files
	Dir string `koanf:"dir" yaml:"dir"`
	// Poll paces empty reads of a continuous capture
	Poll time.Duration `koanf:"poll" yaml:"poll"`
	// Timeout bounds one capture
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Config is the full host configuration
type Config struct {
	LogLevel string        `koanf:"log_level" yaml:"log_level"`
	Sim      bool          `koanf:"sim" yaml:"sim"`
	Store    string        `koanf:"store" yaml:"store"`
	Serial   serial.Config `koanf:"serial" yaml:"serial"`
	HTTP     HTTPConfig    `koanf:"http" yaml:"http"`
	Capture  CaptureConfig `koanf:"capture" yaml:"capture"`

	path string
}

// DefaultConfigPath is ~/.iioboard/iioctl.yml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

// Default returns the built-in settings
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return Config{
		LogLevel: "info",
		Store:    filepath.Join(home, ConfigDir, "iioboard.db"),
		Serial:   *serial.DefaultConfig("/dev/ttyACM0"),
		HTTP:     HTTPConfig{Addr: ":8000"},
		Capture: CaptureConfig{
			Dir:     ".",
			Poll:    5 * time.Millisecond,
			Timeout: time.Minute,
		},
		path: DefaultConfigPath(),
	}
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Load layers the defaults, the file at path and the environment. An
// empty path means DefaultConfigPath; a missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}
	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	c.path = path
	return c, nil
}

// Path is where the configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yml.Marshal(c)
}

// Persist writes the configuration to its path
func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.path); err == nil && !overwrite {
		return fmt.Errorf("%s: %w", c.path, ErrConfigFileExists)
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}
