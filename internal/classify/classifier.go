// Package classify labels closed signal events: which band they fall
// in, what modulation their shape suggests, and whether they match a
// known transmitter fingerprint. Classification is a pure function of
// the event; the classifier holds only immutable reference data.
package classify

import (
	"github.com/rfwatch/rfwatch/internal/detect"
)

// Modulation guesses derived from emission shape.
const (
	ModOOK     = "OOK"
	ModNBFM    = "NBFM"
	ModWBFM    = "WBFM"
	ModAM      = "AM"
	ModGFSK    = "GFSK"
	ModVideo   = "analog video"
	ModUnknown = "unknown"
)

// Classification is the label set attached to a signal event.
type Classification struct {
	Band       string // "" when outside the frequency plan
	Usage      string
	Modulation string
	Threat     ThreatLevel

	// Fingerprint match, when one scored above the confidence floor.
	Fingerprint string
	Confidence  float64
}

// Config tunes the classifier.
type Config struct {
	// MinConfidence is the fingerprint score floor. Default 0.5.
	MinConfidence float64 `yaml:"minConfidence"`
}

// Classifier labels events against the band plan and an optional
// fingerprint library.
type Classifier struct {
	cfg Config
	lib *Library
}

// New builds a classifier. lib may be nil when no fingerprint library
// is loaded.
func New(cfg Config, lib *Library) *Classifier {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.5
	}
	return &Classifier{cfg: cfg, lib: lib}
}

// Classify labels one event. Events that match nothing come back with
// modulation "unknown" and the band's threat level, or ThreatNone
// outside the plan.
func (c *Classifier) Classify(ev detect.Event) Classification {
	out := Classification{
		Modulation: guessModulation(ev),
		Threat:     ThreatNone,
	}

	if band, ok := LookupBand(ev.Center()); ok {
		out.Band = band.Name
		out.Usage = band.Usage
		out.Threat = band.Threat
	}

	if c.lib != nil {
		if fp, score, ok := c.lib.match(ev.FreqLow, ev.FreqHigh, ev.Duration(), c.cfg.MinConfidence); ok {
			out.Fingerprint = fp.Name
			out.Confidence = score
			if rank(fp.Threat) > rank(out.Threat) {
				out.Threat = fp.Threat
			}
		}
	}

	return out
}

// guessModulation maps occupied bandwidth and duty cycle onto a
// modulation family. Coarse by design; the demodulator bank is the
// authority once a signal is tuned.
func guessModulation(ev detect.Event) string {
	bw := ev.Bandwidth()
	switch {
	case bw <= 0:
		return ModUnknown
	case bw < 15e3:
		if ev.DutyCycle > 0 && ev.DutyCycle < 0.4 {
			return ModOOK
		}
		return ModNBFM
	case bw < 30e3:
		return ModNBFM
	case bw < 150e3:
		return ModGFSK
	case bw < 300e3:
		return ModWBFM
	default:
		return ModVideo
	}
}

func rank(t ThreatLevel) int {
	switch t {
	case ThreatLow:
		return 1
	case ThreatMedium:
		return 2
	case ThreatHigh:
		return 3
	default:
		return 0
	}
}
