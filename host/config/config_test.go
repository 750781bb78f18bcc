package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if c.Serial != def.Serial || c.HTTP != def.HTTP || c.Capture != def.Capture || c.LogLevel != def.LogLevel {
		t.Errorf("Load = %+v, want defaults %+v", c, def)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iioctl.yml")
	data := []byte("serial:\n  device: /dev/ttyUSB1\n  baud: 115200\ncapture:\n  poll: 20ms\nlog_level: debug\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IIOCTL_HTTP__ADDR", "127.0.0.1:9000")
	t.Setenv("IIOCTL_SIM", "true")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"device", c.Serial.Device, "/dev/ttyUSB1"},
		{"baud", c.Serial.Baud, 115200},
		{"read timeout", c.Serial.ReadTimeout, 100 * time.Millisecond},
		{"poll", c.Capture.Poll, 20 * time.Millisecond},
		{"log level", c.LogLevel, "debug"},
		{"addr", c.HTTP.Addr, "127.0.0.1:9000"},
		{"sim", c.Sim, true},
		{"path", c.Path(), path},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("serial: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}

func TestPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "iioctl.yml")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	c.Serial.Device = "/dev/ttyACM3"
	if err := c.Persist(false); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := c.Persist(false); !errors.Is(err, ErrConfigFileExists) {
		t.Errorf("Second Persist err = %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if back.Serial != c.Serial || back.Capture != c.Capture {
		t.Errorf("Reloaded %+v, want %+v", back, c)
	}
}
