package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const monitorConfig = `
settings:
  logLevel: debug
device:
  driver: hackrf
  centerFreq: 433.92e6
  sampleRate: 2e6
  lnaGain: 16
  vgaGain: 20
monitor:
  spectrum:
    fftSize: 2048
  detector:
    openMarginDB: 10
`

func TestLoadConfigMonitor(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, monitorConfig))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Monitor == nil {
		t.Fatal("monitor section not loaded")
	}
	if config.Monitor.Spectrum.FFTSize != 2048 {
		t.Errorf("FFTSize = %d, want 2048", config.Monitor.Spectrum.FFTSize)
	}
	if config.Device.CenterFreq != 433.92e6 {
		t.Errorf("CenterFreq = %f", config.Device.CenterFreq)
	}

	level, err := config.Settings.Level()
	if err != nil {
		t.Fatalf("Level() error = %v", err)
	}
	if level != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	body := strings.Replace(monitorConfig, "fftSize", "fftzise", 1)
	if _, err := LoadConfig(writeConfig(t, body)); err == nil {
		t.Error("LoadConfig() accepted an unknown key")
	}
}

func TestLoadConfigRequiresExactlyOneSession(t *testing.T) {
	none := `
device:
  driver: hackrf
  centerFreq: 100e6
  sampleRate: 2e6
`
	if _, err := LoadConfig(writeConfig(t, none)); err == nil {
		t.Error("LoadConfig() accepted a config with no session")
	}

	two := monitorConfig + `
sweep:
  frequencyStart: 2400
  frequencyEnd: 2500
  binWidth: 1000000
`
	if _, err := LoadConfig(writeConfig(t, two)); err == nil {
		t.Error("LoadConfig() accepted two sessions")
	}
}

func TestLoadConfigADSBNetworkNeedsAddress(t *testing.T) {
	body := `
adsb:
  source: beast
`
	if _, err := LoadConfig(writeConfig(t, body)); err == nil {
		t.Error("LoadConfig() accepted a beast source without an address")
	}

	ok := `
adsb:
  source: beast
  address: localhost:30005
`
	if _, err := LoadConfig(writeConfig(t, ok)); err != nil {
		t.Errorf("LoadConfig() error = %v", err)
	}
}

func TestLoadConfigDemodInheritsDeviceRate(t *testing.T) {
	body := `
device:
  driver: rtl-sdr
  centerFreq: 145.5e6
  sampleRate: 1.024e6
demod:
  demodulator:
    mode: nfm
`
	config, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.Demod.Demodulator.SampleRate != 1.024e6 {
		t.Errorf("SampleRate = %f, want device rate", config.Demod.Demodulator.SampleRate)
	}
}

func TestSettingsLevelInvalid(t *testing.T) {
	if _, err := (Settings{LogLevel: "chatty"}).Level(); err == nil {
		t.Error("Level() accepted an invalid level")
	}
}
