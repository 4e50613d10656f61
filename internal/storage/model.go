package storage

import (
	"database/sql"
	"time"
)

// SessionData is one recorded run of the engine.
type SessionData struct {
	ID        int64
	StartTime time.Time
	Mode      string // "monitor", "demod", "adsb", "sweep"
	Device    string
	Config    sql.NullString
}

// EventData is a persisted closed signal event with its labels.
type EventData struct {
	EventID     string
	SessionID   int64
	FirstSeen   time.Time
	LastSeen    time.Time
	FreqLow     float64
	FreqHigh    float64
	PeakPower   float64
	HitFrames   int64
	DutyCycle   float64
	Band        sql.NullString
	Usage       sql.NullString
	Modulation  sql.NullString
	Threat      string
	Fingerprint sql.NullString
	Confidence  sql.NullFloat64
}

// SightingData is one aircraft as last seen during a session.
type SightingData struct {
	SessionID    int64
	ICAO         string
	Callsign     sql.NullString
	Latitude     sql.NullFloat64
	Longitude    sql.NullFloat64
	Altitude     sql.NullInt64
	GroundSpeed  sql.NullFloat64
	Track        sql.NullFloat64
	VerticalRate sql.NullInt64
	Messages     int64
	FirstSeen    time.Time
	LastSeen     time.Time
}
