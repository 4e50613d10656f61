// Package demod converts tuned IQ blocks into audio or symbol streams.
// One demodulator runs at a time; the bank swaps modes atomically at
// block boundaries so a switch never tears a block in half.
package demod

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// Mode selects the demodulator.
type Mode string

const (
	ModeNFM Mode = "nfm"
	ModeWFM Mode = "wfm"
	ModeAM  Mode = "am"
	ModeUSB Mode = "usb"
	ModeLSB Mode = "lsb"
	ModeCW  Mode = "cw"
	ModeOOK Mode = "ook"
)

const (
	nfmDeviation = 5e3
	wfmDeviation = 75e3
	wfmTau       = 75e-6
	cwBFO        = 700.0
)

// ErrModeSwitchBusy is returned by SetConfig while a previous switch
// is still waiting for the next block boundary.
var ErrModeSwitchBusy = errors.New("mode switch already pending")

// Config describes one demodulator setup.
type Config struct {
	Mode       Mode    `yaml:"mode"`
	SampleRate float64 `yaml:"sampleRate"` // input IQ rate, Hz
	AudioRate  float64 `yaml:"audioRate"`  // output rate, Hz, default 48000

	// PulseThreshold is the OOK slicing level as a fraction of the
	// tracked envelope peak. Default 0.6.
	PulseThreshold float64 `yaml:"pulseThreshold"`
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeNFM, ModeWFM, ModeAM, ModeUSB, ModeLSB, ModeCW, ModeOOK:
	default:
		return fmt.Errorf("demod.Config: unknown mode %q", c.Mode)
	}

	if c.SampleRate <= 0 {
		return errors.New("demod.Config: sample rate must be positive")
	}
	audioRate := c.AudioRate
	if audioRate == 0 {
		audioRate = 48000
	}
	if audioRate <= 0 || audioRate > c.SampleRate {
		return fmt.Errorf("demod.Config: audio rate must be in (0, %f]: %f given", c.SampleRate, audioRate)
	}
	if c.PulseThreshold < 0 || c.PulseThreshold >= 1 {
		return fmt.Errorf("demod.Config: pulse threshold must be in [0, 1): %f given", c.PulseThreshold)
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AudioRate == 0 {
		out.AudioRate = 48000
	}
	if out.PulseThreshold == 0 {
		out.PulseThreshold = 0.6
	}
	return out
}

func (c *Config) decimation() int {
	d := int(c.SampleRate / c.AudioRate)
	if d < 1 {
		d = 1
	}
	return d
}

// demodulator is one mode's processing chain. Implementations keep
// filter state across blocks and are owned by a single worker.
type demodulator interface {
	process(iq []complex64, out []float32) []float32
}

// decimator low-pass filters and downsamples a real stream.
type decimator struct {
	lpf    chain
	factor int
	phase  int
}

func newDecimator(sampleRate float64, factor int, cutoff float64) *decimator {
	return &decimator{
		lpf: chain{
			newLowPass(sampleRate, cutoff, 0.54),
			newLowPass(sampleRate, cutoff, 1.31),
		},
		factor: factor,
	}
}

func (d *decimator) process(x float64, out []float32) []float32 {
	y := d.lpf.process(x)
	d.phase++
	if d.phase >= d.factor {
		d.phase = 0
		out = append(out, float32(y))
	}
	return out
}

// fmDemod is the quadrature discriminator used for both narrow and
// wide FM. WFM adds broadcast de-emphasis ahead of decimation.
type fmDemod struct {
	gain float64
	prev complex128
	deem *deemphasis
	dec  *decimator
}

func newFMDemod(cfg Config, deviation float64, deemphasize bool) *fmDemod {
	d := &fmDemod{
		gain: cfg.SampleRate / (2 * math.Pi * deviation),
		prev: 1,
		dec:  newDecimator(cfg.SampleRate, cfg.decimation(), cfg.AudioRate*0.45),
	}
	if deemphasize {
		d.deem = newDeemphasis(cfg.SampleRate, wfmTau)
	}
	return d
}

func (d *fmDemod) process(iq []complex64, out []float32) []float32 {
	for _, s := range iq {
		cur := complex128(s)
		// Instantaneous frequency is the phase step between samples.
		audio := cmplx.Phase(cur*cmplx.Conj(d.prev)) * d.gain
		d.prev = cur

		if d.deem != nil {
			audio = d.deem.process(audio)
		}
		out = d.dec.process(audio, out)
	}
	return out
}

// amDemod is an envelope detector with DC removal and slow AGC.
type amDemod struct {
	dc  *dcBlocker
	agc *agc
	dec *decimator
}

func newAMDemod(cfg Config) *amDemod {
	return &amDemod{
		dc:  newDCBlocker(),
		agc: newAGC(0.7),
		dec: newDecimator(cfg.SampleRate, cfg.decimation(), cfg.AudioRate*0.45),
	}
}

func (d *amDemod) process(iq []complex64, out []float32) []float32 {
	for _, s := range iq {
		env := math.Hypot(float64(real(s)), float64(imag(s)))
		audio := d.agc.process(d.dc.process(env))
		out = d.dec.process(audio, out)
	}
	return out
}

// ssbDemod recovers a sideband by summing (USB) or differencing (LSB)
// the quadrature arms, then applies the voice bandpass at audio rate.
type ssbDemod struct {
	upper bool
	dec   *decimator
	voice chain
	agc   *agc
}

func newSSBDemod(cfg Config, upper bool) *ssbDemod {
	return &ssbDemod{
		upper: upper,
		dec:   newDecimator(cfg.SampleRate, cfg.decimation(), 3300),
		voice: voiceBandPass(cfg.AudioRate),
		agc:   newAGC(0.7),
	}
}

func (d *ssbDemod) process(iq []complex64, out []float32) []float32 {
	start := len(out)
	for _, s := range iq {
		var audio float64
		if d.upper {
			audio = float64(real(s)) + float64(imag(s))
		} else {
			audio = float64(real(s)) - float64(imag(s))
		}
		out = d.dec.process(audio, out)
	}
	for i := start; i < len(out); i++ {
		out[i] = float32(d.agc.process(d.voice.process(float64(out[i]))))
	}
	return out
}

// cwDemod shifts the carrier onto an audible beat note and band-limits
// it around the tone.
type cwDemod struct {
	dec   *decimatorIQ
	phase float64
	step  float64
	tone  chain
	agc   *agc
}

func newCWDemod(cfg Config) *cwDemod {
	return &cwDemod{
		dec:  newDecimatorIQ(cfg.SampleRate, cfg.decimation(), 1500),
		step: 2 * math.Pi * cwBFO / cfg.AudioRate,
		tone: chain{
			newBandPass(cfg.AudioRate, cwBFO, 200),
			newBandPass(cfg.AudioRate, cwBFO, 200),
		},
		agc: newAGC(0.7),
	}
}

func (d *cwDemod) process(iq []complex64, out []float32) []float32 {
	for _, s := range iq {
		ds, ok := d.dec.process(complex128(s))
		if !ok {
			continue
		}
		// Beat the carrier against the BFO.
		audio := real(ds)*math.Cos(d.phase) + imag(ds)*math.Sin(d.phase)
		d.phase += d.step
		if d.phase > 2*math.Pi {
			d.phase -= 2 * math.Pi
		}
		out = append(out, float32(d.agc.process(d.tone.process(audio))))
	}
	return out
}

// decimatorIQ low-pass filters and downsamples a complex stream.
type decimatorIQ struct {
	lpfI   chain
	lpfQ   chain
	factor int
	phase  int
}

func newDecimatorIQ(sampleRate float64, factor int, cutoff float64) *decimatorIQ {
	mk := func() chain {
		return chain{
			newLowPass(sampleRate, cutoff, 0.54),
			newLowPass(sampleRate, cutoff, 1.31),
		}
	}
	return &decimatorIQ{lpfI: mk(), lpfQ: mk(), factor: factor}
}

func (d *decimatorIQ) process(s complex128) (complex128, bool) {
	i := d.lpfI.process(real(s))
	q := d.lpfQ.process(imag(s))
	d.phase++
	if d.phase >= d.factor {
		d.phase = 0
		return complex(i, q), true
	}
	return 0, false
}

func newDemodulator(cfg Config) demodulator {
	switch cfg.Mode {
	case ModeNFM:
		return newFMDemod(cfg, nfmDeviation, false)
	case ModeWFM:
		return newFMDemod(cfg, wfmDeviation, true)
	case ModeAM:
		return newAMDemod(cfg)
	case ModeUSB:
		return newSSBDemod(cfg, true)
	case ModeLSB:
		return newSSBDemod(cfg, false)
	case ModeCW:
		return newCWDemod(cfg)
	case ModeOOK:
		return newOOKDemod(cfg)
	default:
		return nil
	}
}
