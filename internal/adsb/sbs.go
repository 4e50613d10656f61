package adsb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SBS BaseStation text feed: comma-separated MSG lines with fixed
// field positions. Only transmission types 1 (ident), 3 (position) and
// 4 (velocity) carry data the tracker uses.

// ErrMalformedLine marks an SBS line that could not be parsed. Callers
// skip and count these; a feed with occasional garbage keeps flowing.
var ErrMalformedLine = errors.New("malformed sbs line")

const (
	sbsFieldType     = 1
	sbsFieldICAO     = 4
	sbsFieldCallsign = 10
	sbsFieldAltitude = 11
	sbsFieldSpeed    = 12
	sbsFieldTrack    = 13
	sbsFieldLat      = 14
	sbsFieldLon      = 15
	sbsFieldVertical = 16
	sbsMinFields     = 17
)

// SBSRecord is one decoded MSG line.
type SBSRecord struct {
	Type int
	ICAO uint32
	When time.Time

	Callsign string

	Altitude int
	AltOK    bool

	GroundSpeed  float64
	Track        float64
	VerticalRate int
	VelOK        bool

	Lat, Lon float64
	PosOK    bool
}

// ParseSBSLine decodes one feed line. Lines that are not MSG records
// come back as (nil, nil) and are simply not interesting; anything
// else that fails to parse is ErrMalformedLine.
func ParseSBSLine(line string, when time.Time) (*SBSRecord, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "MSG,") {
		return nil, nil
	}

	fields := strings.Split(line, ",")
	if len(fields) < sbsMinFields {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedLine, len(fields))
	}

	msgType, err := strconv.Atoi(fields[sbsFieldType])
	if err != nil {
		return nil, fmt.Errorf("%w: transmission type %q", ErrMalformedLine, fields[sbsFieldType])
	}

	icao, err := strconv.ParseUint(strings.TrimSpace(fields[sbsFieldICAO]), 16, 24)
	if err != nil {
		return nil, fmt.Errorf("%w: hexident %q", ErrMalformedLine, fields[sbsFieldICAO])
	}

	rec := &SBSRecord{
		Type: msgType,
		ICAO: uint32(icao),
		When: when,
	}

	switch msgType {
	case 1:
		rec.Callsign = strings.TrimSpace(fields[sbsFieldCallsign])

	case 3:
		lat, latErr := strconv.ParseFloat(fields[sbsFieldLat], 64)
		lon, lonErr := strconv.ParseFloat(fields[sbsFieldLon], 64)
		if latErr != nil || lonErr != nil {
			return nil, fmt.Errorf("%w: position %q,%q", ErrMalformedLine, fields[sbsFieldLat], fields[sbsFieldLon])
		}
		rec.Lat, rec.Lon, rec.PosOK = lat, lon, true
		if alt, err := strconv.Atoi(fields[sbsFieldAltitude]); err == nil {
			rec.Altitude, rec.AltOK = alt, true
		}

	case 4:
		speed, spdErr := strconv.ParseFloat(fields[sbsFieldSpeed], 64)
		track, trkErr := strconv.ParseFloat(fields[sbsFieldTrack], 64)
		if spdErr != nil || trkErr != nil {
			return nil, fmt.Errorf("%w: velocity %q,%q", ErrMalformedLine, fields[sbsFieldSpeed], fields[sbsFieldTrack])
		}
		rec.GroundSpeed, rec.Track, rec.VelOK = speed, track, true
		if vr, err := strconv.Atoi(fields[sbsFieldVertical]); err == nil {
			rec.VerticalRate = vr
		}
	}

	return rec, nil
}

// UpdateSBS folds a feed record into the table. SBS positions arrive
// already decoded, so no CPR pairing is involved.
func (t *Tracker) UpdateSBS(rec *SBSRecord) (Aircraft, bool) {
	if rec == nil || rec.ICAO == 0 {
		return Aircraft{}, false
	}

	af, ok := t.byICAO[rec.ICAO]
	if !ok {
		af = &airframe{ac: Aircraft{ICAO: rec.ICAO, FirstSeen: rec.When}}
		t.byICAO[rec.ICAO] = af
	}
	af.ac.Messages++
	af.ac.LastSeen = rec.When
	af.ac.Stale = false

	if rec.Callsign != "" {
		af.ac.Callsign = rec.Callsign
	}
	if rec.PosOK {
		af.ac.Lat, af.ac.Lon = rec.Lat, rec.Lon
		af.ac.HasPosition = true
	}
	if rec.AltOK {
		af.ac.Altitude, af.ac.AltitudeOK = rec.Altitude, true
	}
	if rec.VelOK {
		af.ac.GroundSpeed = rec.GroundSpeed
		af.ac.Track = rec.Track
		af.ac.VerticalRate = rec.VerticalRate
		af.ac.VelocityOK = true
	}

	return af.ac, true
}
