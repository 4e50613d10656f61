// Package spectrum turns raw IQ sample blocks into averaged power
// spectra: windowed FFT segments, exponential averaging, a percentile
// noise floor, peak extraction and a wideband anomaly flag.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/rfwatch/rfwatch/internal/sdr"
)

// ErrShortBlock is returned when a sample block holds fewer samples
// than one FFT segment.
var ErrShortBlock = errors.New("sample block shorter than FFT size")

// powerFloor keeps log10 finite on empty bins.
const powerFloor = 1e-20

// Config tunes the analyzer. Zero values fall back to defaults.
type Config struct {
	FFTSize int    `yaml:"fftSize"` // power of two, default 1024
	Window  Window `yaml:"window"`  // default hann

	// Averaging is the EMA weight of the newest frame in (0, 1].
	// 1 disables smoothing.
	Averaging float64 `yaml:"averaging"`

	// NoiseFloorPercentile picks the spectrum percentile reported as
	// the noise floor. Default 30.
	NoiseFloorPercentile float64 `yaml:"noiseFloorPercentile"`

	// PeakMarginDB is how far above the noise floor a bin must rise to
	// count as a peak. Default 6.
	PeakMarginDB float64 `yaml:"peakMarginDB"`

	// PeakMinSeparation is the minimum bin distance between reported
	// peaks; of two closer peaks the stronger wins. Default 3.
	PeakMinSeparation int `yaml:"peakMinSeparation"`

	// MaxPeaks caps the number of peaks per frame. Default 10.
	MaxPeaks int `yaml:"maxPeaks"`

	// BaselineFrames is the rolling window used for the wideband
	// anomaly baseline. Default 50.
	BaselineFrames int `yaml:"baselineFrames"`

	// AnomalySigma is how many standard deviations above the baseline
	// mean the frame mean must rise to flag an anomaly. Default 3.
	AnomalySigma float64 `yaml:"anomalySigma"`
}

func (c *Config) Validate() error {
	if c.FFTSize != 0 && (c.FFTSize < 64 || c.FFTSize&(c.FFTSize-1) != 0) {
		return fmt.Errorf("spectrum.Config: FFT size must be a power of two >= 64: %d given", c.FFTSize)
	}
	if c.Averaging < 0 || c.Averaging > 1 {
		return fmt.Errorf("spectrum.Config: averaging must be in (0, 1]: %f given", c.Averaging)
	}
	if c.NoiseFloorPercentile < 0 || c.NoiseFloorPercentile >= 100 {
		return fmt.Errorf("spectrum.Config: noise floor percentile must be in [0, 100): %f given", c.NoiseFloorPercentile)
	}
	if c.Window != "" {
		if _, _, err := c.Window.coefficients(64); err != nil {
			return fmt.Errorf("spectrum.Config: %w", err)
		}
	}
	if c.PeakMarginDB < 0 {
		return errors.New("spectrum.Config: peak margin cannot be negative")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FFTSize == 0 {
		out.FFTSize = 1024
	}
	if out.Window == "" {
		out.Window = WindowHann
	}
	if out.Averaging == 0 {
		out.Averaging = 0.3
	}
	if out.NoiseFloorPercentile == 0 {
		out.NoiseFloorPercentile = 30
	}
	if out.PeakMarginDB == 0 {
		out.PeakMarginDB = 6
	}
	if out.PeakMinSeparation == 0 {
		out.PeakMinSeparation = 3
	}
	if out.MaxPeaks == 0 {
		out.MaxPeaks = 10
	}
	if out.BaselineFrames == 0 {
		out.BaselineFrames = 50
	}
	if out.AnomalySigma == 0 {
		out.AnomalySigma = 3
	}
	return out
}

// Peak is a local spectral maximum.
type Peak struct {
	Bin       int
	Freq      float64 // Hz, absolute
	Power     float64 // dB
	Bandwidth float64 // Hz, -3 dB estimate
}

// Frame is one averaged spectrum. Power runs in ascending frequency
// order from CenterFreq-SampleRate/2.
type Frame struct {
	Timestamp  time.Time
	CenterFreq float64
	SampleRate float64
	BinWidth   float64
	Power      []float64 // dB
	NoiseFloor float64   // dB
	Peaks      []Peak
	Anomaly    bool
}

// BinFreq returns the absolute frequency of bin i.
func (f *Frame) BinFreq(i int) float64 {
	return f.CenterFreq - f.SampleRate/2 + (float64(i)+0.5)*f.BinWidth
}

// Analyzer computes spectra from sample blocks. Not safe for
// concurrent use; each pipeline stage owns its own analyzer.
type Analyzer struct {
	cfg        Config
	fft        *fourier.CmplxFFT
	window     []float64
	windowGain float64

	in  []complex128
	out []complex128
	acc []float64

	avg    []float64 // EMA in dB
	primed bool

	maxHold    []float64
	minHold    []float64
	holdPrimed bool

	baseline []float64 // ring of frame mean powers
	baseN    int
	baseIdx  int
}

// NewAnalyzer validates cfg and builds an analyzer.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	window, gain, err := cfg.Window.coefficients(cfg.FFTSize)
	if err != nil {
		return nil, err
	}

	return &Analyzer{
		cfg:        cfg,
		fft:        fourier.NewCmplxFFT(cfg.FFTSize),
		window:     window,
		windowGain: gain,
		in:         make([]complex128, cfg.FFTSize),
		out:        make([]complex128, cfg.FFTSize),
		acc:        make([]float64, cfg.FFTSize),
		avg:        make([]float64, cfg.FFTSize),
		maxHold:    make([]float64, cfg.FFTSize),
		minHold:    make([]float64, cfg.FFTSize),
		baseline:   make([]float64, cfg.BaselineFrames),
	}, nil
}

// Process consumes one sample block and returns its averaged spectrum.
// All whole FFT segments in the block are averaged in linear power
// before conversion to dB.
func (a *Analyzer) Process(b *sdr.SampleBlock) (*Frame, error) {
	n := a.cfg.FFTSize
	segments := len(b.Samples) / n
	if segments == 0 {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortBlock, len(b.Samples), n)
	}

	for i := range a.acc {
		a.acc[i] = 0
	}

	for s := 0; s < segments; s++ {
		seg := b.Samples[s*n : (s+1)*n]
		for i, v := range seg {
			a.in[i] = complex(float64(real(v))*a.window[i], float64(imag(v))*a.window[i])
		}
		a.out = a.fft.Coefficients(a.out, a.in)
		for i, c := range a.out {
			a.acc[i] += real(c)*real(c) + imag(c)*imag(c)
		}
	}

	// Average the segments, undo FFT and window scaling, reorder so
	// bin 0 is the lowest frequency, and convert to dB.
	norm := float64(segments) * float64(n) * float64(n) * a.windowGain * a.windowGain
	frame := &Frame{
		Timestamp:  b.Timestamp,
		CenterFreq: b.CenterFreq,
		SampleRate: b.SampleRate,
		BinWidth:   b.SampleRate / float64(n),
		Power:      make([]float64, n),
	}
	for i := 0; i < n; i++ {
		p := a.acc[(i+n/2)%n] / norm
		db := 10 * math.Log10(p+powerFloor)
		if !a.primed {
			a.avg[i] = db
		} else {
			a.avg[i] = a.cfg.Averaging*db + (1-a.cfg.Averaging)*a.avg[i]
		}
		frame.Power[i] = a.avg[i]
	}

	a.primed = true

	if !a.holdPrimed {
		copy(a.maxHold, a.avg)
		copy(a.minHold, a.avg)
		a.holdPrimed = true
	} else {
		for i, v := range a.avg {
			if v > a.maxHold[i] {
				a.maxHold[i] = v
			}
			if v < a.minHold[i] {
				a.minHold[i] = v
			}
		}
	}

	frame.NoiseFloor = percentile(frame.Power, a.cfg.NoiseFloorPercentile)
	frame.Peaks = a.findPeaks(frame)
	frame.Anomaly = a.updateBaseline(stat.Mean(frame.Power, nil))

	return frame, nil
}

// PeakHold returns copies of the running max and min spectra.
func (a *Analyzer) PeakHold() (max, min []float64) {
	max = make([]float64, len(a.maxHold))
	min = make([]float64, len(a.minHold))
	copy(max, a.maxHold)
	copy(min, a.minHold)
	return max, min
}

// ResetPeakHold restarts max/min tracking from the next frame.
func (a *Analyzer) ResetPeakHold() {
	a.holdPrimed = false
}

func (a *Analyzer) findPeaks(f *Frame) []Peak {
	threshold := f.NoiseFloor + a.cfg.PeakMarginDB
	power := f.Power

	var candidates []Peak
	for i := 1; i < len(power)-1; i++ {
		if power[i] < threshold {
			continue
		}
		if power[i] <= power[i-1] || power[i] < power[i+1] {
			continue
		}
		candidates = append(candidates, Peak{
			Bin:       i,
			Freq:      f.BinFreq(i),
			Power:     power[i],
			Bandwidth: a.bandwidth(f, i),
		})
	}

	// Strongest first, then enforce minimum separation.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Power > candidates[j].Power
	})

	var peaks []Peak
	for _, c := range candidates {
		tooClose := false
		for _, p := range peaks {
			if abs(c.Bin-p.Bin) < a.cfg.PeakMinSeparation {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		peaks = append(peaks, c)
		if len(peaks) == a.cfg.MaxPeaks {
			break
		}
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Bin < peaks[j].Bin })
	return peaks
}

// bandwidth walks away from a peak until power drops 3 dB below it.
func (a *Analyzer) bandwidth(f *Frame, bin int) float64 {
	edge := f.Power[bin] - 3

	lo := bin
	for lo > 0 && f.Power[lo-1] >= edge {
		lo--
	}
	hi := bin
	for hi < len(f.Power)-1 && f.Power[hi+1] >= edge {
		hi++
	}
	return float64(hi-lo+1) * f.BinWidth
}

// updateBaseline folds the frame mean into the rolling baseline and
// reports whether it exceeds mean+kσ of the history so far.
func (a *Analyzer) updateBaseline(mean float64) bool {
	anomaly := false
	if a.baseN >= len(a.baseline)/2 {
		hist := a.baseline[:a.baseN]
		mu, sigma := stat.MeanStdDev(hist, nil)
		if sigma < 0.5 {
			sigma = 0.5 // quiet baselines should not trip on noise
		}
		anomaly = mean > mu+a.cfg.AnomalySigma*sigma
	}

	a.baseline[a.baseIdx] = mean
	a.baseIdx = (a.baseIdx + 1) % len(a.baseline)
	if a.baseN < len(a.baseline) {
		a.baseN++
	}
	return anomaly
}

func percentile(values []float64, pct float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(pct/100, stat.Empirical, sorted, nil)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
