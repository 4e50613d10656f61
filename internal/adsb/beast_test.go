package adsb

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"
)

// stuff doubles every marker byte, as the Beast framing requires.
func stuff(data []byte) []byte {
	var out []byte
	for _, b := range data {
		out = append(out, b)
		if b == beastMarker {
			out = append(out, beastMarker)
		}
	}
	return out
}

func beastFrame(typ byte, ts []byte, signal byte, payload []byte) []byte {
	out := []byte{beastMarker, typ}
	out = append(out, stuff(ts)...)
	out = append(out, stuff([]byte{signal})...)
	out = append(out, stuff(payload)...)
	return out
}

func TestBeastReaderDecodesLongFrame(t *testing.T) {
	payload, err := hex.DecodeString(identFrame)
	if err != nil {
		t.Fatal(err)
	}

	// A timestamp containing the marker byte exercises de-stuffing.
	ts := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x1A}
	stream := beastFrame(beastTypeModeLong, ts, 0x50, payload)

	r := NewBeastReader(bytes.NewReader(stream))
	f, err := r.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if f.Type != beastTypeModeLong {
		t.Errorf("Type = %02X, want 33", f.Type)
	}
	if f.Timestamp != 0x1A {
		t.Errorf("Timestamp = %d, want 26", f.Timestamp)
	}
	if f.Signal != 0x50 {
		t.Errorf("Signal = %02X, want 50", f.Signal)
	}
	if !bytes.Equal(f.Raw, payload) {
		t.Errorf("Raw = %X, want %X", f.Raw, payload)
	}

	m, err := f.Message(time.Now())
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if cs, ok := m.Callsign(); !ok || cs != "KLM1023" {
		t.Errorf("Callsign() = %q, %v, want KLM1023", cs, ok)
	}

	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read() at end = %v, want io.EOF", err)
	}
}

func TestBeastReaderResyncsAfterGarbage(t *testing.T) {
	payload, err := hex.DecodeString(identFrame)
	if err != nil {
		t.Fatal(err)
	}

	var stream []byte
	stream = append(stream, []byte("line noise")...)
	// Truncated frame: type and two bytes, then a fresh frame marker.
	stream = append(stream, beastMarker, beastTypeModeLong, 0x01, 0x02)
	stream = append(stream, beastFrame(beastTypeModeLong, make([]byte, 6), 0x30, payload)...)

	r := NewBeastReader(bytes.NewReader(stream))
	f, err := r.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(f.Raw, payload) {
		t.Errorf("Raw = %X, want %X", f.Raw, payload)
	}
	if r.Malformed() != 1 {
		t.Errorf("Malformed() = %d, want 1", r.Malformed())
	}
}

func TestBeastReaderSkipsModeAC(t *testing.T) {
	payload, err := hex.DecodeString(identFrame)
	if err != nil {
		t.Fatal(err)
	}

	var stream []byte
	stream = append(stream, beastFrame(beastTypeModeAC, make([]byte, 6), 0x10, []byte{0x12, 0x34})...)
	stream = append(stream, beastFrame(beastTypeModeLong, make([]byte, 6), 0x20, payload)...)

	r := NewBeastReader(bytes.NewReader(stream))
	f, err := r.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Type != beastTypeModeLong {
		t.Errorf("Type = %02X, want the Mode-A/C frame skipped", f.Type)
	}
	if r.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", r.Skipped())
	}
	if r.Malformed() != 0 {
		t.Errorf("Malformed() = %d, want 0", r.Malformed())
	}
}
