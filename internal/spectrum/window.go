package spectrum

import (
	"fmt"
	"math"
)

// Window selects the taper applied to each FFT segment.
type Window string

const (
	WindowHann     Window = "hann"
	WindowHamming  Window = "hamming"
	WindowBlackman Window = "blackman"
)

// coefficients returns the window taper of length n together with its
// coherent gain, used to compensate the amplitude loss the taper
// introduces.
func (w Window) coefficients(n int) ([]float64, float64, error) {
	if n < 2 {
		return nil, 0, fmt.Errorf("window length must be at least 2: %d given", n)
	}

	coeff := make([]float64, n)
	switch w {
	case WindowHann:
		for i := range coeff {
			coeff[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		}
	case WindowHamming:
		for i := range coeff {
			coeff[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		}
	case WindowBlackman:
		for i := range coeff {
			x := 2 * math.Pi * float64(i) / float64(n-1)
			coeff[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		}
	default:
		return nil, 0, fmt.Errorf("unknown window %q", w)
	}

	var sum float64
	for _, c := range coeff {
		sum += c
	}
	gain := sum / float64(n)
	return coeff, gain, nil
}
