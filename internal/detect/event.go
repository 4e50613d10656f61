package detect

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle phase of a signal event.
type State int

const (
	// StateCandidate marks energy seen but not yet confirmed.
	StateCandidate State = iota

	// StateOpen marks a confirmed, ongoing emission.
	StateOpen

	// StateClosing marks an open event that missed recent frames but
	// may still come back.
	StateClosing

	// StateClosed marks a finished emission. Terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCandidate:
		return "candidate"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is an immutable snapshot of a tracked emission. Consumers may
// hold snapshots indefinitely; the detector never mutates them.
type Event struct {
	ID    uuid.UUID
	State State

	// Frequency extent in Hz. The range only widens while the event is
	// open, so it records the widest span the emission ever covered.
	FreqLow  float64
	FreqHigh float64

	PeakPower  float64 // dB, strongest bin ever seen
	FirstSeen  time.Time
	LastSeen   time.Time
	HitFrames  int
	MissFrames int

	// DutyCycle is the fraction of frames the emission was present in
	// over its lifetime. Populated when the event closes.
	DutyCycle float64
}

// Center returns the midpoint of the frequency range.
func (e Event) Center() float64 { return (e.FreqLow + e.FreqHigh) / 2 }

// Bandwidth returns the width of the frequency range.
func (e Event) Bandwidth() float64 { return e.FreqHigh - e.FreqLow }

// Duration returns how long the emission was observed.
func (e Event) Duration() time.Duration { return e.LastSeen.Sub(e.FirstSeen) }
