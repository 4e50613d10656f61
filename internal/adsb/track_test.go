package adsb

import (
	"testing"
	"time"

	"github.com/rfwatch/rfwatch/internal/conf"
)

func TestTrackerPairsPositionWithinWindow(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	now := time.Now()

	odd, err := Parse(mustFrame(t, oddPosFrame), now)
	if err != nil {
		t.Fatalf("Parse(odd) error = %v", err)
	}
	even, err := Parse(mustFrame(t, evenPosFrame), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Parse(even) error = %v", err)
	}

	ac, ok := tr.Update(odd)
	if !ok {
		t.Fatal("Update(odd) rejected")
	}
	if ac.HasPosition {
		t.Fatal("position resolved from a single CPR half")
	}

	ac, ok = tr.Update(even)
	if !ok {
		t.Fatal("Update(even) rejected")
	}
	if !ac.HasPosition {
		t.Fatal("position still pending after a pair within the window")
	}
	if ac.Lat < 52.2 || ac.Lat > 52.3 {
		t.Errorf("Lat = %f, want ~52.257", ac.Lat)
	}
	if !ac.AltitudeOK || ac.Altitude != 38000 {
		t.Errorf("Altitude = %d (ok=%v), want 38000", ac.Altitude, ac.AltitudeOK)
	}
}

func TestTrackerIgnoresStalePair(t *testing.T) {
	tr := NewTracker(TrackerConfig{CPRWindow: conf.Duration(10 * time.Second)})
	now := time.Now()

	odd, _ := Parse(mustFrame(t, oddPosFrame), now)
	even, _ := Parse(mustFrame(t, evenPosFrame), now.Add(11*time.Second))

	tr.Update(odd)
	ac, _ := tr.Update(even)
	if ac.HasPosition {
		t.Fatal("position resolved from halves outside the pairing window")
	}
}

func TestTrackerMarksStaleNeverDeletes(t *testing.T) {
	tr := NewTracker(TrackerConfig{StaleAfter: conf.Duration(30 * time.Second)})
	now := time.Now()

	m, err := Parse(mustFrame(t, identFrame), now)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tr.Update(m)

	fresh := tr.Snapshot(now.Add(10 * time.Second))
	if len(fresh) != 1 || fresh[0].Stale {
		t.Fatalf("aircraft stale after 10s with a 30s timeout")
	}

	aged := tr.Snapshot(now.Add(2 * time.Minute))
	if len(aged) != 1 {
		t.Fatalf("aircraft deleted, want it kept with Stale set")
	}
	if !aged[0].Stale {
		t.Error("aircraft not marked stale after the timeout")
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
}

func TestTrackerStaleClearsOnNewMessage(t *testing.T) {
	tr := NewTracker(TrackerConfig{StaleAfter: conf.Duration(30 * time.Second)})
	now := time.Now()

	m, _ := Parse(mustFrame(t, identFrame), now)
	tr.Update(m)
	tr.Snapshot(now.Add(time.Minute)) // marks stale

	again, _ := Parse(mustFrame(t, identFrame), now.Add(2*time.Minute))
	ac, _ := tr.Update(again)
	if ac.Stale {
		t.Error("aircraft still stale after a fresh message")
	}
}

func TestTrackerSnapshotIsolation(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	now := time.Now()

	m, _ := Parse(mustFrame(t, identFrame), now)
	tr.Update(m)

	snap := tr.Snapshot(now)
	if len(snap) != 1 {
		t.Fatalf("Snapshot() returned %d aircraft, want 1", len(snap))
	}
	before := snap[0]

	vel, _ := Parse(mustFrame(t, velocityFrame), now.Add(time.Second))
	// Different ICAO: creates a second entry, first snapshot unchanged.
	tr.Update(vel)

	if before.Messages != 1 || before.Callsign != "KLM1023" {
		t.Errorf("earlier snapshot mutated: %+v", before)
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tr.Len())
	}
}
