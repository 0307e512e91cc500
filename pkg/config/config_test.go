package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "serial" {
		t.Errorf("Transport = %q, want serial", cfg.Transport)
	}
	if cfg.Serial.Port != "/dev/ttyACM0" || cfg.Serial.Baud != 115200 {
		t.Errorf("Serial = %+v, want default port/baud", cfg.Serial)
	}
	if cfg.MaxFrameLen != 1536 {
		t.Errorf("MaxFrameLen = %d, want 1536", cfg.MaxFrameLen)
	}
	if time.Duration(cfg.RequestTimeout) != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", time.Duration(cfg.RequestTimeout))
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `transport: ble
ble:
  name: "Flipper Ariska"
serial:
  port: /dev/ttyUSB1
max_frame_len: 4096
request_timeout: 250ms
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "ble" {
		t.Errorf("Transport = %q, want ble", cfg.Transport)
	}
	if cfg.BLE.Name != "Flipper Ariska" {
		t.Errorf("BLE.Name = %q", cfg.BLE.Name)
	}
	if cfg.Serial.Port != "/dev/ttyUSB1" {
		t.Errorf("Serial.Port = %q, want /dev/ttyUSB1", cfg.Serial.Port)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Serial.Baud = %d, want default 115200 preserved", cfg.Serial.Baud)
	}
	if cfg.MaxFrameLen != 4096 {
		t.Errorf("MaxFrameLen = %d, want 4096", cfg.MaxFrameLen)
	}
	if time.Duration(cfg.RequestTimeout) != 250*time.Millisecond {
		t.Errorf("RequestTimeout = %v, want 250ms", time.Duration(cfg.RequestTimeout))
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("request_timeout: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted an invalid duration")
	}
}
