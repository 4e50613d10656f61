package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rfwatch/rfwatch/internal/adsb"
	"github.com/rfwatch/rfwatch/internal/classify"
	"github.com/rfwatch/rfwatch/internal/conf"
	"github.com/rfwatch/rfwatch/internal/demod"
	"github.com/rfwatch/rfwatch/internal/detect"
	"github.com/rfwatch/rfwatch/internal/sdr"
	"github.com/rfwatch/rfwatch/internal/spectrum"
	"github.com/rfwatch/rfwatch/internal/sweep"
)

// Config is the main application configuration. Exactly one session
// section (monitor, demod, adsb, sweep) must be present.
type Config struct {
	Settings Settings       `yaml:"settings"`
	Device   sdr.Config     `yaml:"device"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Monitor  *MonitorConfig `yaml:"monitor"`
	Demod    *DemodConfig   `yaml:"demod"`
	ADSB     *ADSBConfig    `yaml:"adsb"`
	Sweep    *sweep.Config  `yaml:"sweep"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses the configured log level, defaulting to info.
func (s Settings) Level() (slog.Level, error) {
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("app.Settings: invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// StorageConfig represents storage settings.
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// MetricsConfig represents the Prometheus endpoint settings. An empty
// listen address disables the endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// MonitorConfig configures the spectrum/detector/classifier session.
type MonitorConfig struct {
	Spectrum   spectrum.Config `yaml:"spectrum"`
	Detector   detect.Config   `yaml:"detector"`
	Classifier classify.Config `yaml:"classifier"`

	// Fingerprints is an optional path to a YAML fingerprint library.
	Fingerprints string `yaml:"fingerprints"`

	// Record is an optional path for a raw IQ recording of the session.
	Record string `yaml:"record"`
}

// DemodConfig configures the demodulator session.
type DemodConfig struct {
	Demodulator demod.Config `yaml:"demodulator"`

	// AudioOut is where raw float32 audio goes. Empty discards it.
	AudioOut string `yaml:"audioOut"`
}

// ADS-B source kinds.
const (
	ADSBSourceSDR   = "sdr"
	ADSBSourceBeast = "beast"
	ADSBSourceSBS   = "sbs"
)

// ADSBConfig configures the Mode S decode session.
type ADSBConfig struct {
	// Source is "sdr" (demodulate locally), "beast" or "sbs" (network
	// feeds).
	Source  string `yaml:"source"`
	Address string `yaml:"address"` // host:port for network sources

	Tracker adsb.TrackerConfig `yaml:"tracker"`

	// SnapshotInterval is how often the aircraft table is reported.
	// Default 10s.
	SnapshotInterval conf.Duration `yaml:"snapshotInterval"`
}

func (c *ADSBConfig) Validate() error {
	switch c.Source {
	case ADSBSourceSDR:
	case ADSBSourceBeast, ADSBSourceSBS:
		if c.Address == "" {
			return fmt.Errorf("app.ADSBConfig: source %q needs an address", c.Source)
		}
	default:
		return fmt.Errorf("app.ADSBConfig: unknown source %q", c.Source)
	}
	return nil
}

// Validate checks the app-level invariants. Per-component configs are
// validated by their own constructors.
func (c *Config) Validate() error {
	sessions := 0
	for _, set := range []bool{c.Monitor != nil, c.Demod != nil, c.ADSB != nil, c.Sweep != nil} {
		if set {
			sessions++
		}
	}
	if sessions != 1 {
		return errors.New("app.Config: exactly one of monitor, demod, adsb or sweep must be configured")
	}

	if c.ADSB != nil {
		if err := c.ADSB.Validate(); err != nil {
			return err
		}
	}

	needsDevice := c.Monitor != nil || c.Demod != nil ||
		(c.ADSB != nil && c.ADSB.Source == ADSBSourceSDR)
	if needsDevice {
		if err := c.Device.Validate(); err != nil {
			return err
		}
	}
	if c.Sweep != nil {
		if err := c.Sweep.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration file. Unknown
// keys are an error.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var config Config
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// The demodulator consumes the device's IQ stream, so its input
	// rate follows the device unless set explicitly.
	if config.Demod != nil && config.Demod.Demodulator.SampleRate == 0 {
		config.Demod.Demodulator.SampleRate = config.Device.SampleRate
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
