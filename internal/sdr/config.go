package sdr

import (
	"errors"
	"fmt"
)

const (
	DriverHackRF = "hackrf"
	DriverRTLSDR = "rtl-sdr"

	MaxLNAGain  = 40
	MaxVGAGain  = 62
	LNAGainStep = 8
	VGAGainStep = 2

	DefaultBlockSize = 16384
)

// Config describes a capture session: which physical device to open and
// how to tune it. All recognized options are enumerated here; there is
// no keyed parameter bag.
type Config struct {
	Driver     string  `yaml:"driver"`     // "hackrf" or "rtl-sdr"
	Serial     string  `yaml:"serial"`     // device serial or index, "" = first
	CenterFreq float64 `yaml:"centerFreq"` // Hz
	SampleRate float64 `yaml:"sampleRate"` // Hz

	// HackRF gains. LNA 0-40 dB in 8 dB steps, VGA 0-62 dB in 2 dB steps.
	LNAGain   int  `yaml:"lnaGain"`
	VGAGain   int  `yaml:"vgaGain"`
	AmpEnable bool `yaml:"ampEnable"`

	// RTL-SDR tuner gain in tenths of dB, 0 = auto.
	TunerGain int `yaml:"tunerGain"`

	// BlockSize is the number of complex samples per SampleBlock.
	BlockSize int `yaml:"blockSize"`
}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverHackRF, DriverRTLSDR:
	default:
		return fmt.Errorf("sdr.Config: unknown driver %q", c.Driver)
	}

	if c.CenterFreq <= 0 {
		return errors.New("sdr.Config: center frequency must be positive")
	}
	if c.SampleRate <= 0 {
		return errors.New("sdr.Config: sample rate must be positive")
	}

	if c.LNAGain < 0 || c.LNAGain > MaxLNAGain {
		return fmt.Errorf("sdr.Config: LNA gain must be between 0 and %d dB: %d given", MaxLNAGain, c.LNAGain)
	}
	if c.LNAGain%LNAGainStep != 0 {
		return errors.New("sdr.Config: LNA gain must be a multiple of 8 dB")
	}
	if c.VGAGain < 0 || c.VGAGain > MaxVGAGain {
		return fmt.Errorf("sdr.Config: VGA gain must be between 0 and %d dB: %d given", MaxVGAGain, c.VGAGain)
	}
	if c.VGAGain%VGAGainStep != 0 {
		return errors.New("sdr.Config: VGA gain must be a multiple of 2 dB")
	}

	if c.BlockSize < 0 {
		return fmt.Errorf("sdr.Config: block size cannot be negative: %d given", c.BlockSize)
	}

	return nil
}

// DeviceKey identifies the physical unit for exclusivity checks.
func (c *Config) DeviceKey() string {
	if c.Serial == "" {
		return c.Driver
	}
	return c.Driver + ":" + c.Serial
}

func (c *Config) blockSize() int {
	if c.BlockSize > 0 {
		return c.BlockSize
	}
	return DefaultBlockSize
}
