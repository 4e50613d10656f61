// Package iqfile records raw IQ capture to disk and plays it back. A
// capture is two files: <name>.iq holding interleaved little-endian
// complex64 samples, and a <name>.yaml sidecar with the metadata
// needed to interpret them. A payload without its sidecar is useless,
// so playback refuses to guess.
package iqfile

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrMissingMetadata means the .iq payload has no sidecar.
	ErrMissingMetadata = errors.New("missing metadata sidecar")

	// ErrClosed is returned by operations on a closed recorder or
	// player.
	ErrClosed = errors.New("iq file closed")
)

// PayloadExt and SidecarExt are the capture file extensions.
const (
	PayloadExt = ".iq"
	SidecarExt = ".yaml"
)

const bytesPerSample = 8 // two little-endian float32s

// Marker is an annotation pinned to a sample offset, typically a
// signal event that happened during the recording.
type Marker struct {
	Sample int64  `yaml:"sample"`
	Label  string `yaml:"label"`
}

// Metadata is the sidecar content. Every field needed to replay the
// capture faithfully lives here, not in the payload.
type Metadata struct {
	SampleRate  float64   `yaml:"sampleRate"` // Hz
	CenterFreq  float64   `yaml:"centerFreq"` // Hz
	StartTime   time.Time `yaml:"startTime"`
	LNAGain     int       `yaml:"lnaGain,omitempty"`
	VGAGain     int       `yaml:"vgaGain,omitempty"`
	SampleCount int64     `yaml:"sampleCount"`
	Markers     []Marker  `yaml:"markers,omitempty"`
}

func (m *Metadata) validate() error {
	if m.SampleRate <= 0 {
		return errors.New("iqfile.Metadata: sample rate must be positive")
	}
	if m.CenterFreq <= 0 {
		return errors.New("iqfile.Metadata: center frequency must be positive")
	}
	return nil
}

// Duration returns the recorded wall-clock span.
func (m *Metadata) Duration() time.Duration {
	if m.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(m.SampleCount) / m.SampleRate * float64(time.Second))
}

// sidecarPath maps a payload path to its sidecar path.
func sidecarPath(payload string) string {
	return strings.TrimSuffix(payload, PayloadExt) + SidecarExt
}
