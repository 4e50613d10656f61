package adsb

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/rfwatch/rfwatch/internal/sdr"
)

// DecoderSampleRate is the only rate the PPM slicer understands: two
// magnitude samples per microsecond bit.
const DecoderSampleRate = 2e6

const (
	preambleSamples = 16
	messageBits     = 112
	messageSamples  = 2 * messageBits
)

// The Mode-S preamble is four pulses at fixed offsets inside an 8 us
// window, sampled at 2 Msps.
var (
	preambleHighs = [...]int{0, 2, 7, 9}
	preambleLows  = [...]int{4, 5, 11, 12, 13, 14}
)

// DecoderStats counts what happened to the samples a decoder has seen.
type DecoderStats struct {
	Preambles   uint64 // candidate preambles passing the shape test
	Decoded     uint64 // frames with a valid CRC
	CRCFailures uint64 // frames rejected by the CRC
}

// Decoder finds Mode-S frames in raw IQ blocks: magnitude envelope,
// preamble correlation, 112-bit PPM slicing, CRC verification. It is
// owned by a single worker.
type Decoder struct {
	logger *slog.Logger
	stats  DecoderStats
	mag    []float64
}

// DecoderOption configures optional decoder behaviour.
type DecoderOption func(*Decoder)

// WithDecoderLogger sets the decoder logger. Logging is disabled by
// default.
func WithDecoderLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDecoder builds an IQ-level Mode-S decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats returns the running counters.
func (d *Decoder) Stats() DecoderStats { return d.stats }

// ProcessBlock scans one block for extended squitter frames. Frames
// failing the CRC are counted and dropped silently.
func (d *Decoder) ProcessBlock(b *sdr.SampleBlock) ([]*Message, error) {
	if b.SampleRate != DecoderSampleRate {
		return nil, fmt.Errorf("decoder needs %.0f sps: %f given", DecoderSampleRate, b.SampleRate)
	}

	if cap(d.mag) < len(b.Samples) {
		d.mag = make([]float64, len(b.Samples))
	}
	mag := d.mag[:len(b.Samples)]
	for i, s := range b.Samples {
		mag[i] = math.Hypot(float64(real(s)), float64(imag(s)))
	}

	// Adaptive slicing level: twice the median noise magnitude.
	threshold := 2 * median(mag)

	var out []*Message
	end := len(mag) - preambleSamples - messageSamples
	for i := 0; i < end; i++ {
		if !preambleAt(mag[i:], threshold) {
			continue
		}
		d.stats.Preambles++

		raw := sliceBits(mag[i+preambleSamples:])
		if df := int(raw[0] >> 3); df != 17 && df != 18 {
			continue
		}

		m, err := Parse(raw, b.Timestamp)
		if err != nil {
			if errors.Is(err, ErrBadChecksum) {
				d.stats.CRCFailures++
			}
			continue
		}

		d.stats.Decoded++
		out = append(out, m)
		i += preambleSamples + messageSamples - 1
	}

	return out, nil
}

// preambleAt tests the four-pulse preamble shape at the window start.
func preambleAt(mag []float64, threshold float64) bool {
	var highSum float64
	for _, off := range preambleHighs {
		v := mag[off]
		if v < threshold {
			return false
		}
		highSum += v
	}
	highAvg := highSum / float64(len(preambleHighs))

	var lowSum float64
	for _, off := range preambleLows {
		lowSum += mag[off]
	}
	lowAvg := lowSum / float64(len(preambleLows))

	// The quiet chips must sit well below the pulses.
	return lowAvg < highAvg*0.45
}

// sliceBits reads 112 PPM bits: each bit is two samples, a one puts
// energy in the first half.
func sliceBits(mag []float64) []byte {
	raw := make([]byte, messageBits/8)
	for bit := 0; bit < messageBits; bit++ {
		if mag[2*bit] > mag[2*bit+1] {
			raw[bit/8] |= 1 << (7 - bit%8)
		}
	}
	return raw
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)/2]
}
