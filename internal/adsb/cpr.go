package adsb

import (
	"errors"
	"math"
	"time"
)

// Compact Position Reporting: airborne positions arrive as alternating
// even and odd encodings, and one of each within a short window is
// needed to recover an unambiguous global position.

// ErrCPRInconsistent marks an even/odd pair that straddles a latitude
// zone boundary and cannot be combined.
var ErrCPRInconsistent = errors.New("cpr frames cross a latitude zone boundary")

// DefaultCPRWindow is how far apart an even/odd pair may be and still
// decode globally.
const DefaultCPRWindow = 10 * time.Second

const cprScale = 131072 // 2^17

// Position is a decoded global position.
type Position struct {
	Lat, Lon float64
	Altitude int
	AltOK    bool
	When     time.Time
}

// decodeCPRGlobal combines an even and an odd frame. The newer frame
// determines which encoding anchors the result.
func decodeCPRGlobal(even, odd CPRFrame) (Position, error) {
	const (
		dLatEven = 360.0 / 60
		dLatOdd  = 360.0 / 59
	)

	latE := float64(even.LatCPR) / cprScale
	latO := float64(odd.LatCPR) / cprScale

	// Latitude zone index.
	j := math.Floor(59*latE - 60*latO + 0.5)

	rlatE := dLatEven * (mod(j, 60) + latE)
	rlatO := dLatOdd * (mod(j, 59) + latO)
	if rlatE >= 270 {
		rlatE -= 360
	}
	if rlatO >= 270 {
		rlatO -= 360
	}

	if nl(rlatE) != nl(rlatO) {
		return Position{}, ErrCPRInconsistent
	}

	lonE := float64(even.LonCPR) / cprScale
	lonO := float64(odd.LonCPR) / cprScale
	m := math.Floor(lonE*float64(nl(rlatE)-1) - lonO*float64(nl(rlatE)) + 0.5)

	newest := even
	useOdd := odd.When.After(even.When)
	if useOdd {
		newest = odd
	}

	var lat, lon float64
	if useOdd {
		lat = rlatO
		ni := nl(rlatO) - 1
		if ni < 1 {
			ni = 1
		}
		lon = 360.0 / float64(ni) * (mod(m, float64(ni)) + lonO)
	} else {
		lat = rlatE
		ni := nl(rlatE)
		if ni < 1 {
			ni = 1
		}
		lon = 360.0 / float64(ni) * (mod(m, float64(ni)) + lonE)
	}
	if lon >= 180 {
		lon -= 360
	}

	return Position{
		Lat:      lat,
		Lon:      lon,
		Altitude: newest.Altitude,
		AltOK:    newest.AltOK,
		When:     newest.When,
	}, nil
}

// nl is the longitude zone count for a latitude, from the CPR zone
// geometry in ICAO Annex 10.
func nl(lat float64) int {
	lat = math.Abs(lat)
	switch {
	case lat == 0:
		return 59
	case lat == 87:
		return 2
	case lat > 87:
		return 1
	}

	const nz = 15.0
	a := 1 - math.Cos(math.Pi/(2*nz))
	b := math.Cos(math.Pi / 180 * lat)
	return int(math.Floor(2 * math.Pi / math.Acos(1-a/(b*b))))
}

func mod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m < 0 {
		m += b
	}
	return m
}
