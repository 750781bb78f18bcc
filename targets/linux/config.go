package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"iioboard/core"
	"iioboard/host/serial"
)

const EnvPrefix = "IIOBOARD_"

var ErrUnknownChip = errors.New("unknown chip")

// SPIConfig names a spidev port. Chip select belongs to the kernel driver.
type SPIConfig struct {
	Port string `koanf:"port" yaml:"port"`
	Hz   int64  `koanf:"hz" yaml:"hz"`
	Mode int    `koanf:"mode" yaml:"mode"`
}

type AD469xConfig struct {
	SPI        SPIConfig `koanf:"spi" yaml:"spi"`
	CNV        string    `koanf:"cnv" yaml:"cnv"`
	Busy       string    `koanf:"busy" yaml:"busy"`
	SampleRate uint32    `koanf:"sample_rate" yaml:"sample_rate"`
}

type AD7689Config struct {
	SPI SPIConfig `koanf:"spi" yaml:"spi"`
	CNV string    `koanf:"cnv" yaml:"cnv"`
	// Period of the timer trigger in continuous mode
	Period time.Duration `koanf:"period" yaml:"period"`
}

type AD5754RConfig struct {
	SPI   SPIConfig `koanf:"spi" yaml:"spi"`
	LDAC  string    `koanf:"ldac" yaml:"ldac"`
	Range string    `koanf:"range" yaml:"range"`
	// SampleRate of buffered output updates in Hz
	SampleRate uint32 `koanf:"sample_rate" yaml:"sample_rate"`
	// CN0586 adds the high voltage output attributes
	CN0586 bool `koanf:"cn0586" yaml:"cn0586"`
}

type AD4130Config struct {
	SPI SPIConfig `koanf:"spi" yaml:"spi"`
	// Demo is a demo_config name such as "2-Wire RTD"
	Demo       string `koanf:"demo" yaml:"demo"`
	Bipolar    bool   `koanf:"bipolar" yaml:"bipolar"`
	PGA        uint8  `koanf:"pga" yaml:"pga"`
	SampleRate uint32 `koanf:"sample_rate" yaml:"sample_rate"`
	// Period of the RDY poll in continuous mode
	Period time.Duration `koanf:"period" yaml:"period"`
}

// Config selects the chips, their wiring and the host link
type Config struct {
	LogLevel string        `koanf:"log_level" yaml:"log_level"`
	Link     serial.Config `koanf:"link" yaml:"link"`
	// Chips are bound in this order, which fixes their device numbers
	Chips        []string      `koanf:"chips" yaml:"chips"`
	BufferSize   int           `koanf:"buffer_size" yaml:"buffer_size"`
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	// Timeout bounds one conversion
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`

	AD469x  AD469xConfig  `koanf:"ad469x" yaml:"ad469x"`
	AD7689  AD7689Config  `koanf:"ad7689" yaml:"ad7689"`
	AD5754R AD5754RConfig `koanf:"ad5754r" yaml:"ad5754r"`
	AD4130  AD4130Config  `koanf:"ad4130" yaml:"ad4130"`
}

// DefaultConfig matches a Raspberry Pi with the converter on SPI0 and the
// host reached through a USB gadget tty
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Link: serial.Config{
			Device:      "/dev/ttyGS0",
			Baud:        250000,
			ReadTimeout: 100 * time.Millisecond,
		},
		Chips:        []string{"ad469x"},
		BufferSize:   core.DefaultBufferSize,
		PollInterval: core.DefaultPollInterval,
		Timeout:      10 * time.Millisecond,
		AD469x: AD469xConfig{
			SPI:        SPIConfig{Port: "/dev/spidev0.0", Hz: 10000000},
			CNV:        "GPIO18",
			Busy:       "GPIO23",
			SampleRate: 10000,
		},
		AD7689: AD7689Config{
			SPI:    SPIConfig{Port: "/dev/spidev0.1", Hz: 10000000},
			CNV:    "GPIO24",
			Period: time.Millisecond,
		},
		AD5754R: AD5754RConfig{
			SPI:        SPIConfig{Port: "/dev/spidev1.0", Hz: 10000000, Mode: 1},
			LDAC:       "GPIO25",
			Range:      "0v_to_5v",
			SampleRate: 1000,
		},
		AD4130: AD4130Config{
			SPI:        SPIConfig{Port: "/dev/spidev1.1", Hz: 5000000, Mode: 3},
			Demo:       "User Default",
			SampleRate: 50,
			Period:     20 * time.Millisecond,
		},
	}
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// LoadConfig layers the defaults, the YAML file at path and IIOBOARD_
// variables. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}
	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	for _, chip := range c.Chips {
		switch chip {
		case "ad469x", "ad7689", "ad5754r", "ad4130":
		default:
			return nil, fmt.Errorf("%q: %w", chip, ErrUnknownChip)
		}
	}
	return c, nil
}
