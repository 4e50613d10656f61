package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

// Indexes are created on Close, after the bulk of the writes, so they
// do not slow the session down while it is recording.
const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_events_session ON signal_events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_freq ON signal_events(freq_low, freq_high);
CREATE INDEX IF NOT EXISTS idx_sightings_session ON aircraft_sightings(session_id);
CREATE INDEX IF NOT EXISTS idx_sightings_icao ON aircraft_sightings(icao);`

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      mode,
                      device,
                      config)
VALUES (CURRENT_TIMESTAMP, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    mode,
    device,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    mode,
    device,
    config
FROM sessions`

	insertEventSQL = `
INSERT INTO signal_events (event_id,
                           session_id,
                           first_seen,
                           last_seen,
                           freq_low,
                           freq_high,
                           peak_power,
                           hit_frames,
                           duty_cycle,
                           band,
                           usage,
                           modulation,
                           threat,
                           fingerprint,
                           confidence)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectEventsSQL = `
SELECT
    event_id,
    first_seen,
    last_seen,
    freq_low,
    freq_high,
    peak_power,
    hit_frames,
    duty_cycle,
    band,
    usage,
    modulation,
    threat,
    fingerprint,
    confidence
FROM signal_events
WHERE
    session_id = ?
ORDER BY first_seen`

	insertSightingSQL = `
INSERT INTO aircraft_sightings (session_id,
                                icao,
                                callsign,
                                latitude,
                                longitude,
                                altitude,
                                ground_speed,
                                track,
                                vertical_rate,
                                messages,
                                first_seen,
                                last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSightingsSQL = `
SELECT
    icao,
    callsign,
    latitude,
    longitude,
    altitude,
    ground_speed,
    track,
    vertical_rate,
    messages,
    first_seen,
    last_seen
FROM aircraft_sightings
WHERE
    session_id = ?
ORDER BY last_seen`
)
