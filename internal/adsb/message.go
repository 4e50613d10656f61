// Package adsb decodes Mode-S / ADS-B transponder traffic from raw IQ,
// Beast binary streams or SBS text feeds, and maintains an aircraft
// table keyed by ICAO address.
package adsb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrBadChecksum marks a frame whose CRC remainder is nonzero.
	// Such frames are dropped without further decoding.
	ErrBadChecksum = errors.New("bad checksum")

	// ErrFrameLength marks a frame that is neither 7 nor 14 bytes.
	ErrFrameLength = errors.New("invalid frame length")
)

const (
	// ShortFrameBytes and LongFrameBytes are the two Mode-S frame
	// sizes: 56-bit surveillance replies and 112-bit extended squitter.
	ShortFrameBytes = 7
	LongFrameBytes  = 14
)

// identCharset maps 6-bit Mode-S character codes to the flight ident
// alphabet. '?' marks codes that never appear in valid idents.
const identCharset = "?ABCDEFGHIJKLMNOPQRSTUVWXYZ????? ???????????????0123456789??????"

// Message is one verified Mode-S frame.
type Message struct {
	Raw  []byte
	When time.Time

	DF   int    // downlink format
	CA   int    // capability / control field
	ICAO uint32 // 24-bit airframe address
	TC   int    // extended squitter type code, 0 otherwise
}

// Parse verifies and splits a raw frame. Extended squitter frames
// (DF17/18) must have a zero CRC remainder; anything else fails with
// ErrBadChecksum. Short surveillance frames are accepted without CRC
// verification since their parity is overlaid with the address.
func Parse(raw []byte, when time.Time) (*Message, error) {
	if len(raw) != ShortFrameBytes && len(raw) != LongFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameLength, len(raw))
	}

	m := &Message{
		Raw:  raw,
		When: when,
		DF:   int(raw[0] >> 3),
		CA:   int(raw[0] & 0x07),
	}

	if m.DF == 17 || m.DF == 18 {
		if len(raw) != LongFrameBytes {
			return nil, fmt.Errorf("%w: DF%d needs %d bytes", ErrFrameLength, m.DF, LongFrameBytes)
		}
		if Checksum(raw) != 0 {
			return nil, fmt.Errorf("%w: DF%d", ErrBadChecksum, m.DF)
		}
		m.ICAO = uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
		m.TC = int(raw[4] >> 3)
	}

	return m, nil
}

// ParseHex decodes a hex frame, as carried by AVR-format feeds.
func ParseHex(s string, when time.Time) (*Message, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decoding frame hex: %w", err)
	}
	return Parse(raw, when)
}

// extended reports whether the frame carries a decodable ME field.
func (m *Message) extended() bool {
	return (m.DF == 17 || m.DF == 18) && len(m.Raw) == LongFrameBytes
}

// Callsign returns the flight ident from an aircraft identification
// squitter (TC 1-4).
func (m *Message) Callsign() (string, bool) {
	if !m.extended() || m.TC < 1 || m.TC > 4 {
		return "", false
	}

	// 8 characters, 6 bits each, packed into ME bits 8-55.
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		bit := 32 + 8 + i*6 // ME starts at frame bit 32
		code := bits(m.Raw, bit, 6)
		c := identCharset[code]
		if c == '?' {
			return "", false
		}
		sb.WriteByte(c)
	}
	return strings.TrimRight(sb.String(), " "), true
}

// CPRFrame is one airborne position report awaiting global decode.
type CPRFrame struct {
	Odd      bool
	LatCPR   uint32 // 17-bit encoded latitude
	LonCPR   uint32 // 17-bit encoded longitude
	Altitude int    // feet; AltitudeOK false when unavailable
	AltOK    bool
	When     time.Time
}

// Position returns the CPR frame from an airborne position squitter
// (TC 9-18).
func (m *Message) Position() (CPRFrame, bool) {
	if !m.extended() || m.TC < 9 || m.TC > 18 {
		return CPRFrame{}, false
	}

	f := CPRFrame{
		Odd:    bits(m.Raw, 32+21, 1) == 1,
		LatCPR: bits(m.Raw, 32+22, 17),
		LonCPR: bits(m.Raw, 32+39, 17),
		When:   m.When,
	}
	f.Altitude, f.AltOK = decodeAltitude(bits(m.Raw, 32+8, 12))
	return f, true
}

// decodeAltitude expands the 12-bit barometric altitude field. Only
// the 25 ft (Q=1) encoding is supported; the Gillham-coded variant is
// rare above FL500 and reported as unavailable.
func decodeAltitude(code uint32) (int, bool) {
	if code == 0 {
		return 0, false
	}
	if code&0x10 == 0 { // Q-bit clear: 100 ft Gillham encoding
		return 0, false
	}
	n := int((code&0xFE0)>>1 | code&0x0F)
	return n*25 - 1000, true
}

// Velocity is a decoded airborne velocity squitter (TC 19).
type Velocity struct {
	GroundSpeed  float64 // knots
	Track        float64 // degrees true, 0-360
	VerticalRate int     // ft/min, positive up
}

// Velocity returns ground speed, track and vertical rate from a TC 19
// subtype 1 or 2 squitter.
func (m *Message) Velocity() (Velocity, bool) {
	if !m.extended() || m.TC != 19 {
		return Velocity{}, false
	}
	subtype := bits(m.Raw, 32+5, 3)
	if subtype != 1 && subtype != 2 {
		// Subtypes 3/4 carry airspeed, not ground velocity.
		return Velocity{}, false
	}

	ewSign := bits(m.Raw, 32+13, 1)
	ewVel := int(bits(m.Raw, 32+14, 10))
	nsSign := bits(m.Raw, 32+24, 1)
	nsVel := int(bits(m.Raw, 32+25, 10))
	if ewVel == 0 || nsVel == 0 {
		return Velocity{}, false
	}

	scale := 1.0
	if subtype == 2 { // supersonic
		scale = 4.0
	}
	ew := float64(ewVel-1) * scale
	if ewSign == 1 {
		ew = -ew
	}
	ns := float64(nsVel-1) * scale
	if nsSign == 1 {
		ns = -ns
	}

	trk := math.Atan2(ew, ns) * 180 / math.Pi
	if trk < 0 {
		trk += 360
	}
	v := Velocity{
		GroundSpeed: math.Hypot(ew, ns),
		Track:       trk,
	}

	vrSign := bits(m.Raw, 32+36, 1)
	vrCode := int(bits(m.Raw, 32+37, 9))
	if vrCode != 0 {
		v.VerticalRate = (vrCode - 1) * 64
		if vrSign == 1 {
			v.VerticalRate = -v.VerticalRate
		}
	}

	return v, true
}

// bits extracts a big-endian bit field from a frame.
func bits(raw []byte, offset, width int) uint32 {
	var out uint32
	for i := 0; i < width; i++ {
		b := offset + i
		out <<= 1
		out |= uint32(raw[b/8]>>(7-b%8)) & 1
	}
	return out
}
