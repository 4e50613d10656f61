// Package storage persists engine sessions to SQLite: closed signal
// events with their classification, and aircraft sightings from the
// decode path. Writes and reads use separate lazily-opened
// connections so a live recording session never contends with
// after-the-fact queries.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rfwatch/rfwatch/internal/classify"
	"github.com/rfwatch/rfwatch/internal/detect"
)

// Store handles database operations.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New prepares a store backed by the SQLite database at dbPath.
// Connections are opened on first use.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession records the start of an engine run and returns its ID.
// config may be a string, raw bytes or any JSON-marshalable value.
func (s *Store) CreateSession(ctx context.Context, mode, device string, config any) (sessionID int64, err error) {
	configData, err := toConfigData(config)
	if err != nil {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, mode, device, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// Session returns one session by its ID.
func (s *Store) Session(ctx context.Context, id int64) (session *SessionData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var sess SessionData
	if err = stmt.QueryRowContext(ctx, id).Scan(&sess.ID, &sess.StartTime, &sess.Mode, &sess.Device, &sess.Config); err != nil {
		err = fmt.Errorf("scanning session: %w", err)
		return
	}
	return &sess, nil
}

// Sessions returns every recorded session.
func (s *Store) Sessions(ctx context.Context) (sessions []*SessionData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess SessionData
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.Mode, &sess.Device, &sess.Config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, &sess)
	}
	err = rows.Err()
	return
}

// StoreEvent persists a closed signal event with its classification.
func (s *Store) StoreEvent(ctx context.Context, sessionID int64, ev detect.Event, cls classify.Classification) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	data := toEventData(sessionID, ev, cls)

	if _, err = stmt.ExecContext(
		ctx,
		data.EventID,
		data.SessionID,
		data.FirstSeen,
		data.LastSeen,
		data.FreqLow,
		data.FreqHigh,
		data.PeakPower,
		data.HitFrames,
		data.DutyCycle,
		data.Band,
		data.Usage,
		data.Modulation,
		data.Threat,
		data.Fingerprint,
		data.Confidence,
	); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Events returns the signal events of a session ordered by first
// sighting.
func (s *Store) Events(ctx context.Context, sessionID int64) (events []*EventData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectEventsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying events: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		ev := EventData{SessionID: sessionID}
		if err = rows.Scan(
			&ev.EventID,
			&ev.FirstSeen,
			&ev.LastSeen,
			&ev.FreqLow,
			&ev.FreqHigh,
			&ev.PeakPower,
			&ev.HitFrames,
			&ev.DutyCycle,
			&ev.Band,
			&ev.Usage,
			&ev.Modulation,
			&ev.Threat,
			&ev.Fingerprint,
			&ev.Confidence,
		); err != nil {
			err = fmt.Errorf("scanning event: %w", err)
			return
		}
		events = append(events, &ev)
	}
	err = rows.Err()
	return
}

// StoreSightings batch-inserts aircraft sightings in one transaction,
// typically the tracker snapshot taken when a decode session ends.
func (s *Store) StoreSightings(ctx context.Context, sightings []SightingData) (err error) {
	if len(sightings) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertSightingSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, sg := range sightings {
		if _, err = stmt.ExecContext(
			ctx,
			sg.SessionID,
			sg.ICAO,
			sg.Callsign,
			sg.Latitude,
			sg.Longitude,
			sg.Altitude,
			sg.GroundSpeed,
			sg.Track,
			sg.VerticalRate,
			sg.Messages,
			sg.FirstSeen,
			sg.LastSeen,
		); err != nil {
			return fmt.Errorf("inserting sighting: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Sightings returns the aircraft sightings of a session ordered by
// last contact.
func (s *Store) Sightings(ctx context.Context, sessionID int64) (sightings []*SightingData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSightingsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying sightings: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		sg := SightingData{SessionID: sessionID}
		if err = rows.Scan(
			&sg.ICAO,
			&sg.Callsign,
			&sg.Latitude,
			&sg.Longitude,
			&sg.Altitude,
			&sg.GroundSpeed,
			&sg.Track,
			&sg.VerticalRate,
			&sg.Messages,
			&sg.FirstSeen,
			&sg.LastSeen,
		); err != nil {
			err = fmt.Errorf("scanning sighting: %w", err)
			return
		}
		sightings = append(sightings, &sg)
	}
	err = rows.Err()
	return
}

// Close builds the deferred indexes and shuts both connections down.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}
