package adsb

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/rfwatch/rfwatch/internal/conf"
)

// Aircraft is an immutable snapshot of one tracked airframe. The
// tracker hands out copies; holders never see later mutations.
type Aircraft struct {
	ICAO     uint32
	Callsign string

	HasPosition bool
	Lat, Lon    float64

	Altitude     int // feet
	AltitudeOK   bool
	GroundSpeed  float64 // knots
	Track        float64 // degrees
	VerticalRate int     // ft/min
	VelocityOK   bool

	Messages  int
	FirstSeen time.Time
	LastSeen  time.Time

	// Stale marks airframes not heard from within the stale timeout.
	// Stale aircraft stay in the table; they are never deleted.
	Stale bool
}

// TrackerConfig tunes the aircraft table.
type TrackerConfig struct {
	// CPRWindow is the maximum age gap between the even and odd
	// position frames combined into a global decode. Default 10s.
	CPRWindow conf.Duration `yaml:"cprWindow"`

	// StaleAfter marks aircraft stale when silent this long.
	// Default 60s.
	StaleAfter conf.Duration `yaml:"staleAfter"`
}

func (c *TrackerConfig) cprWindow() time.Duration {
	if c.CPRWindow > 0 {
		return c.CPRWindow.Std()
	}
	return DefaultCPRWindow
}

func (c *TrackerConfig) staleAfter() time.Duration {
	if c.StaleAfter > 0 {
		return c.StaleAfter.Std()
	}
	return time.Minute
}

// airframe is the tracker's mutable record behind Aircraft snapshots.
type airframe struct {
	ac Aircraft

	// Pending CPR halves, newest of each parity.
	even, odd *CPRFrame
}

// Tracker maintains the aircraft table. It is owned by the decode
// worker; concurrent readers go through Snapshot copies.
type Tracker struct {
	cfg    TrackerConfig
	logger *slog.Logger
	byICAO map[uint32]*airframe
}

// TrackerOption configures optional tracker behaviour.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the tracker logger. Logging is disabled by
// default.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker builds an empty aircraft table.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		byICAO: make(map[uint32]*airframe),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update folds one verified message into the table and returns the
// airframe's snapshot after the update. Messages without an ICAO
// address are ignored.
func (t *Tracker) Update(m *Message) (Aircraft, bool) {
	if m.ICAO == 0 {
		return Aircraft{}, false
	}

	af, ok := t.byICAO[m.ICAO]
	if !ok {
		af = &airframe{ac: Aircraft{ICAO: m.ICAO, FirstSeen: m.When}}
		t.byICAO[m.ICAO] = af
		t.logger.Debug("new aircraft", slog.String("icao", icaoString(m.ICAO)))
	}
	af.ac.Messages++
	af.ac.LastSeen = m.When
	af.ac.Stale = false

	if cs, ok := m.Callsign(); ok {
		af.ac.Callsign = cs
	}

	if v, ok := m.Velocity(); ok {
		af.ac.GroundSpeed = v.GroundSpeed
		af.ac.Track = v.Track
		af.ac.VerticalRate = v.VerticalRate
		af.ac.VelocityOK = true
	}

	if f, ok := m.Position(); ok {
		t.position(af, f)
	}

	return af.ac, true
}

// position stores the CPR half and attempts a global decode once both
// parities are present within the pairing window.
func (t *Tracker) position(af *airframe, f CPRFrame) {
	frame := f
	if frame.Odd {
		af.odd = &frame
	} else {
		af.even = &frame
	}
	if frame.AltOK {
		af.ac.Altitude = frame.Altitude
		af.ac.AltitudeOK = true
	}

	if af.even == nil || af.odd == nil {
		return
	}
	gap := af.even.When.Sub(af.odd.When)
	if gap < 0 {
		gap = -gap
	}
	if gap > t.cfg.cprWindow() {
		return
	}

	pos, err := decodeCPRGlobal(*af.even, *af.odd)
	if err != nil {
		t.logger.Debug("cpr decode failed",
			slog.String("icao", icaoString(af.ac.ICAO)),
			slog.Any("error", err))
		return
	}

	af.ac.Lat = pos.Lat
	af.ac.Lon = pos.Lon
	af.ac.HasPosition = true
}

// Snapshot returns every tracked airframe, stale flags refreshed
// against now, ordered by ICAO address.
func (t *Tracker) Snapshot(now time.Time) []Aircraft {
	out := make([]Aircraft, 0, len(t.byICAO))
	cutoff := now.Add(-t.cfg.staleAfter())
	for _, af := range t.byICAO {
		if af.ac.LastSeen.Before(cutoff) {
			af.ac.Stale = true
		}
		out = append(out, af.ac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ICAO < out[j].ICAO })
	return out
}

// Len reports how many airframes the table holds.
func (t *Tracker) Len() int { return len(t.byICAO) }

func icaoString(icao uint32) string {
	return fmt.Sprintf("%06X", icao)
}
