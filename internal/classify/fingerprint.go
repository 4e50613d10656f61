package classify

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rfwatch/rfwatch/internal/conf"
)

// Fingerprint describes a known transmitter profile for matching
// against closed signal events.
type Fingerprint struct {
	Name     string      `yaml:"name"`
	FreqLow  float64     `yaml:"freqLow"`  // Hz
	FreqHigh float64     `yaml:"freqHigh"` // Hz
	Threat   ThreatLevel `yaml:"threat"`
	Notes    string      `yaml:"notes"`

	// Expected emission duration range. Zero max means unbounded.
	MinDuration conf.Duration `yaml:"minDuration"`
	MaxDuration conf.Duration `yaml:"maxDuration"`
}

func (f *Fingerprint) validate() error {
	if f.Name == "" {
		return errors.New("fingerprint without a name")
	}
	if f.FreqLow <= 0 || f.FreqHigh <= f.FreqLow {
		return fmt.Errorf("fingerprint %q: invalid frequency range [%f, %f]", f.Name, f.FreqLow, f.FreqHigh)
	}
	if f.MaxDuration != 0 && f.MaxDuration < f.MinDuration {
		return fmt.Errorf("fingerprint %q: max duration below min", f.Name)
	}
	if f.MinDuration < 0 {
		return fmt.Errorf("fingerprint %q: negative duration", f.Name)
	}
	return nil
}

// Library is a set of fingerprints loaded from YAML.
type Library struct {
	fingerprints []Fingerprint
}

// LoadLibrary reads a fingerprint library. Unknown YAML keys are a
// load-time error.
func LoadLibrary(r io.Reader) (*Library, error) {
	var doc struct {
		Fingerprints []Fingerprint `yaml:"fingerprints"`
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing fingerprint library: %w", err)
	}

	for i := range doc.Fingerprints {
		if err := doc.Fingerprints[i].validate(); err != nil {
			return nil, err
		}
	}
	return &Library{fingerprints: doc.Fingerprints}, nil
}

// Len reports the number of fingerprints in the library.
func (l *Library) Len() int { return len(l.fingerprints) }

// match scores every fingerprint against the observed range and
// duration and returns the best one at or above minScore.
func (l *Library) match(freqLow, freqHigh float64, duration time.Duration, minScore float64) (Fingerprint, float64, bool) {
	var (
		best      Fingerprint
		bestScore float64
	)

	for _, f := range l.fingerprints {
		score := overlapFraction(freqLow, freqHigh, f.FreqLow, f.FreqHigh) * durationScore(duration, f.MinDuration.Std(), f.MaxDuration.Std())
		if score > bestScore {
			best, bestScore = f, score
		}
	}

	if bestScore < minScore {
		return Fingerprint{}, 0, false
	}
	return best, bestScore, true
}

// overlapFraction is the share of the observed range covered by the
// fingerprint range.
func overlapFraction(obsLow, obsHigh, fpLow, fpHigh float64) float64 {
	if obsHigh <= obsLow {
		// Zero-width observation: containment check.
		if obsLow >= fpLow && obsLow <= fpHigh {
			return 1
		}
		return 0
	}

	low := obsLow
	if fpLow > low {
		low = fpLow
	}
	high := obsHigh
	if fpHigh < high {
		high = fpHigh
	}
	if high <= low {
		return 0
	}
	return (high - low) / (obsHigh - obsLow)
}

// durationScore is 1 inside the expected range and falls off linearly
// to 0 at 2x outside it.
func durationScore(d, min, max time.Duration) float64 {
	if min == 0 && max == 0 {
		return 1
	}
	if d >= min && (max == 0 || d <= max) {
		return 1
	}
	if d < min {
		if min == 0 {
			return 1
		}
		return float64(d) / float64(min)
	}
	// d > max
	over := float64(d-max) / float64(max)
	if over >= 1 {
		return 0
	}
	return 1 - over
}
