// Package detect finds signal emissions in spectrum frames and tracks
// them through a hysteresis lifecycle: energy must persist for several
// frames before an event opens, and must stay gone for several frames
// before it closes, so brief flicker in either direction is absorbed.
package detect

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rfwatch/rfwatch/internal/spectrum"
)

// Config tunes the detector. Zero values fall back to defaults.
type Config struct {
	// OpenMarginDB is how far above the noise floor a region's peak
	// must rise to start a candidate. Default 12.
	OpenMarginDB float64 `yaml:"openMarginDB"`

	// CloseMarginDB is the lower margin an already-tracked emission
	// must hold to count as present. Must be below OpenMarginDB.
	// Default 6.
	CloseMarginDB float64 `yaml:"closeMarginDB"`

	// OpenAfterFrames is how many consecutive frames a candidate must
	// persist before the event opens. Default 3.
	OpenAfterFrames int `yaml:"openAfterFrames"`

	// CloseAfterFrames is how many consecutive missed frames close an
	// open event. Default 10.
	CloseAfterFrames int `yaml:"closeAfterFrames"`

	// MinWidthBins drops regions narrower than this. Default 2.
	MinWidthBins int `yaml:"minWidthBins"`

	// MergeGapBins merges regions separated by at most this many bins
	// below threshold. Default 2.
	MergeGapBins int `yaml:"mergeGapBins"`

	// MatchFactor matches a region to a track when the region center
	// falls within MatchFactor x the track bandwidth of the track
	// center, even without direct overlap. Default 2.
	MatchFactor float64 `yaml:"matchFactor"`
}

func (c *Config) Validate() error {
	if c.OpenMarginDB < 0 || c.CloseMarginDB < 0 {
		return fmt.Errorf("detect.Config: margins cannot be negative")
	}
	if c.OpenMarginDB != 0 && c.CloseMarginDB != 0 && c.CloseMarginDB > c.OpenMarginDB {
		return fmt.Errorf("detect.Config: close margin %f exceeds open margin %f", c.CloseMarginDB, c.OpenMarginDB)
	}
	if c.OpenAfterFrames < 0 || c.CloseAfterFrames < 0 {
		return fmt.Errorf("detect.Config: frame counts cannot be negative")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.OpenMarginDB == 0 {
		out.OpenMarginDB = 12
	}
	if out.CloseMarginDB == 0 {
		out.CloseMarginDB = 6
	}
	if out.OpenAfterFrames == 0 {
		out.OpenAfterFrames = 3
	}
	if out.CloseAfterFrames == 0 {
		out.CloseAfterFrames = 10
	}
	if out.MinWidthBins == 0 {
		out.MinWidthBins = 2
	}
	if out.MergeGapBins == 0 {
		out.MergeGapBins = 2
	}
	if out.MatchFactor == 0 {
		out.MatchFactor = 2
	}
	return out
}

// track is the detector's mutable record behind event snapshots.
type track struct {
	id         uuid.UUID
	state      State
	freqLow    float64
	freqHigh   float64
	peakPower  float64
	firstSeen  time.Time
	lastSeen   time.Time
	hits       int
	misses     int
	frameCount int // frames since firstSeen, hit or miss
}

func (t *track) snapshot() Event {
	ev := Event{
		ID:         t.id,
		State:      t.state,
		FreqLow:    t.freqLow,
		FreqHigh:   t.freqHigh,
		PeakPower:  t.peakPower,
		FirstSeen:  t.firstSeen,
		LastSeen:   t.lastSeen,
		HitFrames:  t.hits,
		MissFrames: t.misses,
	}
	if t.state == StateClosed && t.frameCount > 0 {
		ev.DutyCycle = float64(t.hits) / float64(t.frameCount)
	}
	return ev
}

// Detector consumes spectrum frames and emits event snapshots. Not
// safe for concurrent use; it belongs to a single pipeline worker.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	tracks []*track

	onOpen   []func(Event)
	onUpdate []func(Event)
	onClose  []func(Event)
}

// Option configures optional detector behaviour.
type Option func(*Detector)

// WithLogger sets the detector logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New validates cfg and builds a detector.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:    cfg.withDefaults(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// OnOpen registers a callback invoked when an event opens.
func (d *Detector) OnOpen(fn func(Event)) { d.onOpen = append(d.onOpen, fn) }

// OnUpdate registers a callback invoked when an open event is hit again.
func (d *Detector) OnUpdate(fn func(Event)) { d.onUpdate = append(d.onUpdate, fn) }

// OnClose registers a callback invoked when an event closes.
func (d *Detector) OnClose(fn func(Event)) { d.onClose = append(d.onClose, fn) }

// region is a contiguous run of bins above threshold.
type region struct {
	low, high int // bin range, inclusive
	freqLow   float64
	freqHigh  float64
	peakPower float64
	matched   bool
}

// Process advances every track by one frame and returns the snapshots
// emitted for this frame (opened, updated and closed events, in that
// order per track).
func (d *Detector) Process(frame *spectrum.Frame) []Event {
	sustain := d.regions(frame, frame.NoiseFloor+d.cfg.CloseMarginDB)

	var emitted []Event
	remaining := d.tracks[:0]

	for _, t := range d.tracks {
		r := matchRegion(sustain, t, d.cfg.MatchFactor)
		if r != nil {
			r.matched = true
			d.hit(t, r, frame.Timestamp)
			switch t.state {
			case StateOpen:
				if t.hits == d.cfg.OpenAfterFrames {
					ev := t.snapshot()
					emitted = append(emitted, ev)
					d.emit(d.onOpen, ev)
					d.logger.Info("signal event opened",
						slog.String("id", t.id.String()),
						slog.Float64("centerFreq", (t.freqLow+t.freqHigh)/2),
						slog.Float64("peakPower", t.peakPower))
				} else {
					ev := t.snapshot()
					emitted = append(emitted, ev)
					d.emit(d.onUpdate, ev)
				}
			}
			remaining = append(remaining, t)
			continue
		}

		// Miss.
		t.frameCount++
		switch t.state {
		case StateCandidate:
			// Candidates require consecutive hits; one miss discards.
		case StateOpen, StateClosing:
			t.state = StateClosing
			t.misses++
			if t.misses >= d.cfg.CloseAfterFrames {
				t.state = StateClosed
				ev := t.snapshot()
				emitted = append(emitted, ev)
				d.emit(d.onClose, ev)
				d.logger.Info("signal event closed",
					slog.String("id", t.id.String()),
					slog.Duration("duration", ev.Duration()),
					slog.Float64("dutyCycle", ev.DutyCycle))
			} else {
				remaining = append(remaining, t)
			}
		}
	}

	// Unmatched regions strong enough to open become candidates.
	openAt := frame.NoiseFloor + d.cfg.OpenMarginDB
	for i := range sustain {
		r := &sustain[i]
		if r.matched || r.peakPower < openAt {
			continue
		}
		t := &track{
			id:         uuid.New(),
			state:      StateCandidate,
			freqLow:    r.freqLow,
			freqHigh:   r.freqHigh,
			peakPower:  r.peakPower,
			firstSeen:  frame.Timestamp,
			lastSeen:   frame.Timestamp,
			hits:       1,
			frameCount: 1,
		}
		if d.cfg.OpenAfterFrames <= 1 {
			t.state = StateOpen
			ev := t.snapshot()
			emitted = append(emitted, ev)
			d.emit(d.onOpen, ev)
		}
		remaining = append(remaining, t)
	}

	d.tracks = remaining
	return emitted
}

// Flush closes every open track, for end-of-session teardown.
func (d *Detector) Flush() []Event {
	var emitted []Event
	for _, t := range d.tracks {
		if t.state != StateOpen && t.state != StateClosing {
			continue
		}
		t.state = StateClosed
		ev := t.snapshot()
		emitted = append(emitted, ev)
		d.emit(d.onClose, ev)
	}
	d.tracks = nil
	return emitted
}

func (d *Detector) hit(t *track, r *region, now time.Time) {
	t.hits++
	t.misses = 0
	t.frameCount++
	t.lastSeen = now

	// The range only widens.
	if r.freqLow < t.freqLow {
		t.freqLow = r.freqLow
	}
	if r.freqHigh > t.freqHigh {
		t.freqHigh = r.freqHigh
	}
	if r.peakPower > t.peakPower {
		t.peakPower = r.peakPower
	}

	if t.state == StateClosing {
		t.state = StateOpen
	}
	if t.state == StateCandidate && t.hits >= d.cfg.OpenAfterFrames {
		t.state = StateOpen
	}
}

// regions extracts contiguous above-threshold bin runs, merging runs
// separated by small gaps and dropping runs below the width floor.
func (d *Detector) regions(frame *spectrum.Frame, threshold float64) []region {
	var out []region
	start := -1

	flush := func(end int) {
		if start < 0 {
			return
		}
		r := region{low: start, high: end}
		if len(out) > 0 && r.low-out[len(out)-1].high-1 <= d.cfg.MergeGapBins {
			out[len(out)-1].high = r.high
		} else {
			out = append(out, r)
		}
		start = -1
	}

	for i, p := range frame.Power {
		if p >= threshold {
			if start < 0 {
				start = i
			}
		} else {
			flush(i - 1)
		}
	}
	flush(len(frame.Power) - 1)

	kept := out[:0]
	for _, r := range out {
		if r.high-r.low+1 < d.cfg.MinWidthBins {
			continue
		}
		r.freqLow = frame.BinFreq(r.low) - frame.BinWidth/2
		r.freqHigh = frame.BinFreq(r.high) + frame.BinWidth/2
		r.peakPower = frame.Power[r.low]
		for i := r.low + 1; i <= r.high; i++ {
			if frame.Power[i] > r.peakPower {
				r.peakPower = frame.Power[i]
			}
		}
		kept = append(kept, r)
	}
	return kept
}

// matchRegion finds the region belonging to a track: direct frequency
// overlap, or center proximity scaled by the track bandwidth.
func matchRegion(regions []region, t *track, factor float64) *region {
	tc := (t.freqLow + t.freqHigh) / 2
	tb := t.freqHigh - t.freqLow

	for i := range regions {
		r := &regions[i]
		if r.matched {
			continue
		}
		if r.freqLow <= t.freqHigh && r.freqHigh >= t.freqLow {
			return r
		}
		rc := (r.freqLow + r.freqHigh) / 2
		if tb > 0 && absf(rc-tc) <= factor*tb {
			return r
		}
	}
	return nil
}

func (d *Detector) emit(fns []func(Event), ev Event) {
	for _, fn := range fns {
		fn(ev)
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
