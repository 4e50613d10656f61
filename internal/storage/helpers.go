package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rfwatch/rfwatch/internal/adsb"
	"github.com/rfwatch/rfwatch/internal/classify"
	"github.com/rfwatch/rfwatch/internal/detect"
)

func toConfigData(config any) (sql.NullString, error) {
	var configData sql.NullString

	switch v := config.(type) {
	case nil:
	case string:
		configData.Valid = true
		configData.String = v

	case []byte:
		configData.Valid = true
		configData.String = string(v)

	default:
		p, err := json.Marshal(config)
		if err != nil {
			return configData, fmt.Errorf("marshaling config: %w", err)
		}

		configData.Valid = true
		configData.String = string(p)
	}
	return configData, nil
}

func toEventData(sessionID int64, ev detect.Event, cls classify.Classification) *EventData {
	data := &EventData{
		EventID:   ev.ID.String(),
		SessionID: sessionID,
		FirstSeen: ev.FirstSeen.UTC(),
		LastSeen:  ev.LastSeen.UTC(),
		FreqLow:   ev.FreqLow,
		FreqHigh:  ev.FreqHigh,
		PeakPower: ev.PeakPower,
		HitFrames: int64(ev.HitFrames),
		DutyCycle: ev.DutyCycle,
		Threat:    string(cls.Threat),
	}

	data.Band = sql.NullString{String: cls.Band, Valid: cls.Band != ""}
	data.Usage = sql.NullString{String: cls.Usage, Valid: cls.Usage != ""}
	data.Modulation = sql.NullString{String: cls.Modulation, Valid: cls.Modulation != ""}
	data.Fingerprint = sql.NullString{String: cls.Fingerprint, Valid: cls.Fingerprint != ""}
	data.Confidence = sql.NullFloat64{Float64: cls.Confidence, Valid: cls.Fingerprint != ""}

	return data
}

// ToSightingData flattens a tracked aircraft into a storable row.
func ToSightingData(sessionID int64, ac adsb.Aircraft) SightingData {
	sg := SightingData{
		SessionID: sessionID,
		ICAO:      fmt.Sprintf("%06X", ac.ICAO),
		Messages:  int64(ac.Messages),
		FirstSeen: ac.FirstSeen.UTC(),
		LastSeen:  ac.LastSeen.UTC(),
	}

	sg.Callsign = sql.NullString{String: ac.Callsign, Valid: ac.Callsign != ""}
	if ac.HasPosition {
		sg.Latitude = sql.NullFloat64{Float64: ac.Lat, Valid: true}
		sg.Longitude = sql.NullFloat64{Float64: ac.Lon, Valid: true}
	}
	if ac.AltitudeOK {
		sg.Altitude = sql.NullInt64{Int64: int64(ac.Altitude), Valid: true}
	}
	if ac.VelocityOK {
		sg.GroundSpeed = sql.NullFloat64{Float64: ac.GroundSpeed, Valid: true}
		sg.Track = sql.NullFloat64{Float64: ac.Track, Valid: true}
		sg.VerticalRate = sql.NullInt64{Int64: int64(ac.VerticalRate), Valid: true}
	}

	return sg
}
