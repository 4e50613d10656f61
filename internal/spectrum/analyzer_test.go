package spectrum

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"
	"time"

	"github.com/rfwatch/rfwatch/internal/sdr"
)

func toneBlock(rate, center float64, n int, tones map[float64]float64, noise float64, rng *rand.Rand) *sdr.SampleBlock {
	samples := make([]complex64, n)
	for i := range samples {
		t := float64(i) / rate
		var s complex128
		for offset, amp := range tones {
			s += complex(amp, 0) * cmplx.Exp(complex(0, 2*math.Pi*offset*t))
		}
		if noise > 0 {
			s += complex(rng.NormFloat64()*noise, rng.NormFloat64()*noise)
		}
		samples[i] = complex64(s)
	}
	return &sdr.SampleBlock{
		Timestamp:  time.Now(),
		SampleRate: rate,
		CenterFreq: center,
		Samples:    samples,
	}
}

func TestAnalyzerTonePlacement(t *testing.T) {
	const (
		rate    = 256e3
		center  = 100e6
		fftSize = 256
	)

	a, err := NewAnalyzer(Config{FFTSize: fftSize, Averaging: 1})
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	// Tones 32 kHz above and 64 kHz below center.
	block := toneBlock(rate, center, fftSize*4, map[float64]float64{
		32e3:  1.0,
		-64e3: 0.5,
	}, 0, rng)

	frame, err := a.Process(block)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(frame.Power) != fftSize {
		t.Fatalf("len(Power) = %d, want %d", len(frame.Power), fftSize)
	}
	if len(frame.Peaks) < 2 {
		t.Fatalf("got %d peaks, want at least 2", len(frame.Peaks))
	}

	// The two strongest peaks must land on the tone bins: ascending
	// frequency order puts -64 kHz at bin 64 and +32 kHz at bin 160.
	strongest := frame.Peaks[0]
	second := frame.Peaks[0]
	for _, p := range frame.Peaks[1:] {
		if p.Power > strongest.Power {
			second = strongest
			strongest = p
		} else if p.Power > second.Power || second == strongest {
			second = p
		}
	}

	if strongest.Bin != 160 {
		t.Errorf("strongest peak at bin %d, want 160", strongest.Bin)
	}
	if second.Bin != 64 {
		t.Errorf("second peak at bin %d, want 64", second.Bin)
	}

	// Unit-amplitude tone at a bin center recovers ~0 dB after window
	// gain compensation.
	if math.Abs(strongest.Power) > 1 {
		t.Errorf("strongest peak power = %f dB, want ~0", strongest.Power)
	}

	wantFreq := center + 32e3
	if math.Abs(strongest.Freq-wantFreq) > frame.BinWidth {
		t.Errorf("strongest peak freq = %f, want %f", strongest.Freq, wantFreq)
	}
}

func TestAnalyzerShortBlock(t *testing.T) {
	a, err := NewAnalyzer(Config{FFTSize: 1024})
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}

	b := &sdr.SampleBlock{SampleRate: 2e6, Samples: make([]complex64, 512)}
	if _, err := a.Process(b); err == nil {
		t.Fatal("Process() on a short block succeeded, want error")
	}
}

func TestAnalyzerNoiseFloorConverges(t *testing.T) {
	a, err := NewAnalyzer(Config{FFTSize: 256, Averaging: 0.3})
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	var prev float64
	for i := 0; i < 40; i++ {
		block := toneBlock(256e3, 100e6, 256*8, nil, 0.05, rng)
		frame, err := a.Process(block)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if i >= 20 {
			if delta := math.Abs(frame.NoiseFloor - prev); delta > 1 {
				t.Fatalf("frame %d: noise floor moved %f dB on constant input", i, delta)
			}
		}
		prev = frame.NoiseFloor
	}
}

func TestAnalyzerAnomalyFlag(t *testing.T) {
	a, err := NewAnalyzer(Config{FFTSize: 256, Averaging: 1, BaselineFrames: 20})
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 15; i++ {
		frame, err := a.Process(toneBlock(256e3, 100e6, 256*4, nil, 0.01, rng))
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if frame.Anomaly {
			t.Fatalf("frame %d: anomaly on quiet baseline", i)
		}
	}

	loud, err := a.Process(toneBlock(256e3, 100e6, 256*4, nil, 1.0, rng))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !loud.Anomaly {
		t.Error("wideband power surge did not raise the anomaly flag")
	}
}

func TestAnalyzerPeakHold(t *testing.T) {
	a, err := NewAnalyzer(Config{FFTSize: 256, Averaging: 1})
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}

	rng := rand.New(rand.NewSource(5))
	if _, err := a.Process(toneBlock(256e3, 100e6, 256, map[float64]float64{32e3: 1}, 0, rng)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, err := a.Process(toneBlock(256e3, 100e6, 256, nil, 0, rng)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	max, min := a.PeakHold()
	if max[160] <= min[160]+10 {
		t.Errorf("peak hold at tone bin: max %f, min %f, want max well above min", max[160], min[160])
	}
}

func TestWindowCoefficients(t *testing.T) {
	for _, w := range []Window{WindowHann, WindowHamming, WindowBlackman} {
		t.Run(string(w), func(t *testing.T) {
			coeff, gain, err := w.coefficients(128)
			if err != nil {
				t.Fatalf("coefficients() error = %v", err)
			}
			if len(coeff) != 128 {
				t.Fatalf("len = %d, want 128", len(coeff))
			}
			if gain <= 0 || gain > 1 {
				t.Errorf("gain = %f, want in (0, 1]", gain)
			}
			for i, c := range coeff {
				if c < -1e-9 || c > 1+1e-9 {
					t.Fatalf("coefficient %d = %f out of [0, 1]", i, c)
				}
			}
		})
	}

	if _, _, err := Window("kaiser").coefficients(128); err == nil {
		t.Error("unknown window accepted")
	}
}
