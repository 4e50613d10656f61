package adsb

import (
	"encoding/hex"
	"errors"
	"math"
	"testing"
	"time"
)

// Reference frames from live DF17 traffic.
const (
	identFrame    = "8D4840D6202CC371C32CE0576098" // KLM1023
	evenPosFrame  = "8D40621D58C382D690C8AC2863A7"
	oddPosFrame   = "8D40621D58C386435CC412692AD6"
	velocityFrame = "8D485020994409940838175B284F"
)

func mustFrame(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad test frame %q: %v", s, err)
	}
	return raw
}

func TestChecksumValidFrame(t *testing.T) {
	for _, frame := range []string{identFrame, evenPosFrame, oddPosFrame, velocityFrame} {
		if rem := Checksum(mustFrame(t, frame)); rem != 0 {
			t.Errorf("Checksum(%s) = %06X, want 0", frame, rem)
		}
	}
}

func TestChecksumDetectsEverySingleBitFlip(t *testing.T) {
	raw := mustFrame(t, identFrame)
	for bit := 0; bit < len(raw)*8; bit++ {
		flipped := make([]byte, len(raw))
		copy(flipped, raw)
		flipped[bit/8] ^= 1 << (7 - bit%8)
		if Checksum(flipped) == 0 {
			t.Errorf("flip of bit %d not detected", bit)
		}
	}
}

func TestParseIdent(t *testing.T) {
	m, err := Parse(mustFrame(t, identFrame), time.Now())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if m.DF != 17 {
		t.Errorf("DF = %d, want 17", m.DF)
	}
	if m.ICAO != 0x4840D6 {
		t.Errorf("ICAO = %06X, want 4840D6", m.ICAO)
	}
	if m.TC != 4 {
		t.Errorf("TC = %d, want 4", m.TC)
	}

	cs, ok := m.Callsign()
	if !ok {
		t.Fatal("Callsign() not available on an ident squitter")
	}
	if cs != "KLM1023" {
		t.Errorf("Callsign() = %q, want KLM1023", cs)
	}
}

func TestParseRejectsCorruptFrame(t *testing.T) {
	raw := mustFrame(t, identFrame)
	raw[5] ^= 0x40
	if _, err := Parse(raw, time.Now()); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("Parse() error = %v, want ErrBadChecksum", err)
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	if _, err := Parse(make([]byte, 10), time.Now()); !errors.Is(err, ErrFrameLength) {
		t.Fatalf("Parse() error = %v, want ErrFrameLength", err)
	}
}

func TestPositionAltitude(t *testing.T) {
	m, err := Parse(mustFrame(t, evenPosFrame), time.Now())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	f, ok := m.Position()
	if !ok {
		t.Fatal("Position() not available on a position squitter")
	}
	if f.Odd {
		t.Error("Odd = true, want even frame")
	}
	if !f.AltOK || f.Altitude != 38000 {
		t.Errorf("Altitude = %d (ok=%v), want 38000", f.Altitude, f.AltOK)
	}
}

func TestVelocity(t *testing.T) {
	m, err := Parse(mustFrame(t, velocityFrame), time.Now())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.TC != 19 {
		t.Fatalf("TC = %d, want 19", m.TC)
	}

	v, ok := m.Velocity()
	if !ok {
		t.Fatal("Velocity() not available on a velocity squitter")
	}
	if math.Abs(v.GroundSpeed-159.20) > 0.1 {
		t.Errorf("GroundSpeed = %f, want 159.20", v.GroundSpeed)
	}
	if math.Abs(v.Track-182.88) > 0.1 {
		t.Errorf("Track = %f, want 182.88", v.Track)
	}
	if v.VerticalRate != -832 {
		t.Errorf("VerticalRate = %d, want -832", v.VerticalRate)
	}
}

func TestCPRGlobalDecode(t *testing.T) {
	now := time.Now()

	even, err := Parse(mustFrame(t, evenPosFrame), now)
	if err != nil {
		t.Fatalf("Parse(even) error = %v", err)
	}
	odd, err := Parse(mustFrame(t, oddPosFrame), now.Add(-time.Second))
	if err != nil {
		t.Fatalf("Parse(odd) error = %v", err)
	}

	ef, _ := even.Position()
	of, _ := odd.Position()

	pos, err := decodeCPRGlobal(ef, of)
	if err != nil {
		t.Fatalf("decodeCPRGlobal() error = %v", err)
	}

	if math.Abs(pos.Lat-52.2572) > 1e-3 {
		t.Errorf("Lat = %f, want 52.2572", pos.Lat)
	}
	if math.Abs(pos.Lon-3.9194) > 1e-3 {
		t.Errorf("Lon = %f, want 3.9194", pos.Lon)
	}
	if !pos.AltOK || pos.Altitude != 38000 {
		t.Errorf("Altitude = %d (ok=%v), want 38000", pos.Altitude, pos.AltOK)
	}
}

func TestNL(t *testing.T) {
	tests := []struct {
		lat  float64
		want int
	}{
		{0, 59},
		{52.2572, 36},
		{-52.2572, 36},
		{87, 2},
		{88, 1},
		{10.2, 59},
	}

	for _, tt := range tests {
		if got := nl(tt.lat); got != tt.want {
			t.Errorf("nl(%f) = %d, want %d", tt.lat, got, tt.want)
		}
	}
}

func TestDecodeAltitude(t *testing.T) {
	tests := []struct {
		code uint32
		want int
		ok   bool
	}{
		{0xC38, 38000, true},
		{0, 0, false},     // unavailable
		{0xC28, 0, false}, // Q-bit clear, Gillham coded
	}

	for _, tt := range tests {
		got, ok := decodeAltitude(tt.code)
		if ok != tt.ok || got != tt.want {
			t.Errorf("decodeAltitude(%03X) = %d, %v, want %d, %v", tt.code, got, ok, tt.want, tt.ok)
		}
	}
}
