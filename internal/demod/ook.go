package demod

import (
	"math"
	"sort"
	"time"
)

// Pulse is one constant-level run in an OOK stream.
type Pulse struct {
	High     bool
	Samples  int
	Duration time.Duration
}

// ookDemod slices the magnitude envelope against a fraction of its
// tracked peak and records level runs as pulses. The audio output is
// the smoothed envelope itself, useful for listening to keying.
type ookDemod struct {
	cfg    Config
	smooth chain
	dec    *decimator
	peak   float64
	state  bool
	runLen int
	warmup int
	pulses []Pulse
}

// peakDecay lets the envelope peak follow slow fading without losing
// the slicing reference between bursts.
const peakDecay = 0.9999

func newOOKDemod(cfg Config) *ookDemod {
	return &ookDemod{
		cfg: cfg,
		smooth: chain{
			newLowPass(cfg.SampleRate, cfg.SampleRate/50, 0.707),
		},
		dec:    newDecimator(cfg.SampleRate, cfg.decimation(), cfg.AudioRate*0.45),
		warmup: int(cfg.SampleRate / 100), // let the peak tracker settle
	}
}

func (d *ookDemod) process(iq []complex64, out []float32) []float32 {
	for _, s := range iq {
		env := d.smooth.process(math.Hypot(float64(real(s)), float64(imag(s))))
		out = d.dec.process(env, out)

		d.peak *= peakDecay
		if env > d.peak {
			d.peak = env
		}

		if d.warmup > 0 {
			d.warmup--
			continue
		}

		high := env > d.cfg.PulseThreshold*d.peak
		if high != d.state && d.runLen > 0 {
			d.pulses = append(d.pulses, Pulse{
				High:     d.state,
				Samples:  d.runLen,
				Duration: time.Duration(float64(d.runLen) / d.cfg.SampleRate * float64(time.Second)),
			})
			d.runLen = 0
		}
		d.state = high
		d.runLen++
	}
	return out
}

// drain returns and clears the pulses collected so far.
func (d *ookDemod) drain() []Pulse {
	p := d.pulses
	d.pulses = nil
	return p
}

// ClassifyPulses renders high pulses as a short/long pattern string.
// Widths are split at the midpoint between the shortest and longest
// pulse; when all pulses are alike the pattern is all 'S'.
func ClassifyPulses(pulses []Pulse) string {
	var widths []int
	for _, p := range pulses {
		if p.High {
			widths = append(widths, p.Samples)
		}
	}
	if len(widths) == 0 {
		return ""
	}

	sorted := make([]int, len(widths))
	copy(sorted, widths)
	sort.Ints(sorted)

	min, max := sorted[0], sorted[len(sorted)-1]
	split := 0
	if float64(max) > 1.8*float64(min) {
		split = (min + max) / 2
	}

	pattern := make([]byte, len(widths))
	for i, w := range widths {
		if split > 0 && w > split {
			pattern[i] = 'L'
		} else {
			pattern[i] = 'S'
		}
	}
	return string(pattern)
}
