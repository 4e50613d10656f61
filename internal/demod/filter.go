package demod

import "math"

// biquad is a direct-form-I second-order IIR section with RBJ cookbook
// coefficients.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// newLowPass designs an RBJ low-pass biquad.
func newLowPass(sampleRate, cutoff, q float64) *biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)

	a0 := 1 + alpha
	return &biquad{
		b0: (1 - cosW0) / 2 / a0,
		b1: (1 - cosW0) / a0,
		b2: (1 - cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// newBandPass designs an RBJ constant-skirt band-pass biquad centered
// on center with the given -3 dB width.
func newBandPass(sampleRate, center, width float64) *biquad {
	w0 := 2 * math.Pi * center / sampleRate
	q := center / width
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)

	a0 := 1 + alpha
	return &biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// chain runs sections in series for steeper skirts.
type chain []*biquad

func (c chain) process(x float64) float64 {
	for _, f := range c {
		x = f.process(x)
	}
	return x
}

func (c chain) reset() {
	for _, f := range c {
		f.reset()
	}
}

// voiceBandPass is the 300-3000 Hz SSB voice filter.
func voiceBandPass(sampleRate float64) chain {
	center := math.Sqrt(300 * 3000)
	width := 3000.0 - 300.0
	return chain{
		newBandPass(sampleRate, center, width),
		newBandPass(sampleRate, center, width),
	}
}

// dcBlocker is a single-pole high-pass that strips the carrier offset
// from envelope detectors.
type dcBlocker struct {
	r  float64
	x1 float64
	y1 float64
}

func newDCBlocker() *dcBlocker {
	return &dcBlocker{r: 0.995}
}

func (f *dcBlocker) process(x float64) float64 {
	y := x - f.x1 + f.r*f.y1
	f.x1, f.y1 = x, y
	return y
}

// agc is a slow feed-forward gain control holding output near the
// target level. Attack is immediate on overshoot, decay is gradual.
type agc struct {
	target float64
	gain   float64
	decay  float64
	max    float64
}

func newAGC(target float64) *agc {
	return &agc{target: target, gain: 1, decay: 1.0005, max: 1e4}
}

func (a *agc) process(x float64) float64 {
	y := x * a.gain
	if abs := math.Abs(y); abs > a.target {
		a.gain *= a.target / abs
	} else {
		a.gain *= a.decay
		if a.gain > a.max {
			a.gain = a.max
		}
	}
	return x * a.gain
}

// deemphasis is the single-pole FM broadcast de-emphasis network.
type deemphasis struct {
	alpha float64
	y1    float64
}

// newDeemphasis builds the network for a time constant, 75us in the
// Americas.
func newDeemphasis(sampleRate float64, tau float64) *deemphasis {
	alpha := 1 - math.Exp(-1/(sampleRate*tau))
	return &deemphasis{alpha: alpha}
}

func (f *deemphasis) process(x float64) float64 {
	f.y1 += f.alpha * (x - f.y1)
	return f.y1
}
