package adsb

import (
	"bufio"
	"io"
	"log/slog"
	"time"
)

// Beast binary framing: every frame opens with the 0x1A marker, a type
// byte, a 6-byte 12 MHz MLAT timestamp, a signal level byte and the
// payload. 0x1A bytes inside the frame are doubled; a lone 0x1A always
// starts a new frame, which is what resynchronisation keys on.

const (
	beastMarker = 0x1A

	beastTypeModeAC    = 0x31
	beastTypeModeShort = 0x32
	beastTypeModeLong  = 0x33
)

// BeastFrame is one de-stuffed frame from a Beast stream.
type BeastFrame struct {
	Type      byte
	Timestamp uint64 // 12 MHz MLAT counter
	Signal    byte
	Raw       []byte
}

// Message parses the frame payload as a Mode-S message.
func (f *BeastFrame) Message(when time.Time) (*Message, error) {
	return Parse(f.Raw, when)
}

// BeastReader reads Beast frames from a stream, resynchronising on the
// frame marker after malformed input.
type BeastReader struct {
	br        *bufio.Reader
	logger    *slog.Logger
	malformed uint64
	skipped   uint64
}

// BeastOption configures optional reader behaviour.
type BeastOption func(*BeastReader)

// WithBeastLogger sets the reader logger. Logging is disabled by
// default.
func WithBeastLogger(logger *slog.Logger) BeastOption {
	return func(r *BeastReader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewBeastReader wraps a Beast byte stream.
func NewBeastReader(r io.Reader, opts ...BeastOption) *BeastReader {
	br := &BeastReader{
		br:     bufio.NewReader(r),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, opt := range opts {
		opt(br)
	}
	return br
}

// Malformed reports how many garbled frames were skipped.
func (r *BeastReader) Malformed() uint64 { return r.malformed }

// Skipped reports how many well-formed Mode-A/C frames were passed
// over.
func (r *BeastReader) Skipped() uint64 { return r.skipped }

// Read returns the next Mode-S frame. Mode-A/C frames and garbage are
// skipped; io.EOF surfaces when the stream ends.
func (r *BeastReader) Read() (*BeastFrame, error) {
	typ, err := r.sync()
	if err != nil {
		return nil, err
	}

	for {
		var payload int
		switch typ {
		case beastTypeModeAC:
			payload = 2
		case beastTypeModeShort:
			payload = ShortFrameBytes
		case beastTypeModeLong:
			payload = LongFrameBytes
		default:
			r.malformed++
			if typ, err = r.sync(); err != nil {
				return nil, err
			}
			continue
		}

		body, restart, err := r.readStuffed(6 + 1 + payload)
		if err != nil {
			return nil, err
		}
		if body == nil {
			// Truncated frame; the marker we hit opens the next one.
			r.malformed++
			typ = restart
			continue
		}

		if typ == beastTypeModeAC {
			// Mode-A/C carries no ICAO address; nothing to track.
			r.skipped++
			if typ, err = r.sync(); err != nil {
				return nil, err
			}
			continue
		}

		var ts uint64
		for _, b := range body[:6] {
			ts = ts<<8 | uint64(b)
		}
		return &BeastFrame{
			Type:      typ,
			Timestamp: ts,
			Signal:    body[6],
			Raw:       body[7:],
		}, nil
	}
}

// sync discards input until a frame marker and returns the type byte
// behind it.
func (r *BeastReader) sync() (byte, error) {
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != beastMarker {
			continue
		}
		typ, err := r.br.ReadByte()
		if err != nil {
			return 0, err
		}
		if typ == beastMarker {
			// Escaped data byte from a frame we joined mid-stream;
			// keep scanning.
			continue
		}
		return typ, nil
	}
}

// readStuffed reads n payload bytes undoing 0x1A doubling. When a lone
// marker interrupts the frame it returns (nil, nextType, nil) so the
// caller can restart on the new frame.
func (r *BeastReader) readStuffed(n int) ([]byte, byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		b, err := r.br.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		if b != beastMarker {
			out = append(out, b)
			continue
		}

		next, err := r.br.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		if next == beastMarker {
			out = append(out, beastMarker)
			continue
		}
		return nil, next, nil
	}
	return out, 0, nil
}
