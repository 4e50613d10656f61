package classify

// ThreatLevel ranks how much attention a detection deserves.
type ThreatLevel string

const (
	ThreatNone   ThreatLevel = "none"
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// Band is a named allocation in the frequency plan.
type Band struct {
	Name   string
	Low    float64 // Hz, inclusive
	High   float64 // Hz, exclusive
	Usage  string
	Threat ThreatLevel
}

// bands is the built-in frequency plan, low to high. Ranges do not
// overlap.
var bands = []Band{
	{"HF amateur", 3e6, 30e6, "amateur radio, shortwave broadcast", ThreatNone},
	{"RC 35 MHz", 35e6, 36e6, "legacy RC aircraft control", ThreatMedium},
	{"RC 72 MHz", 72e6, 73e6, "legacy RC aircraft control", ThreatMedium},
	{"FM broadcast", 87.5e6, 108e6, "wideband FM broadcast", ThreatNone},
	{"airband", 118e6, 137e6, "civil aviation AM voice", ThreatNone},
	{"2m amateur", 144e6, 148e6, "amateur radio", ThreatNone},
	{"marine VHF", 156e6, 163e6, "maritime voice and AIS", ThreatNone},
	{"70cm amateur", 420e6, 450e6, "amateur radio", ThreatNone},
	{"LPD433 / ISM", 433.05e6, 434.79e6, "keyfobs, sensors, drone telemetry", ThreatMedium},
	{"PMR446", 446e6, 446.2e6, "license-free handheld voice", ThreatLow},
	{"ISM 868", 863e6, 870e6, "LoRa, sensors, drone telemetry", ThreatMedium},
	{"ISM 915", 902e6, 928e6, "LoRa, sensors, drone control", ThreatMedium},
	{"GSM 900", 930e6, 960e6, "cellular downlink", ThreatNone},
	{"ADS-B", 1089e6, 1091e6, "Mode-S / ADS-B transponders", ThreatNone},
	{"GPS L1", 1574e6, 1577e6, "satellite navigation", ThreatHigh},
	{"ISM 2.4 GHz", 2400e6, 2483.5e6, "WiFi, Bluetooth, drone control and video", ThreatMedium},
	{"ISM 5.8 GHz", 5725e6, 5875e6, "WiFi, drone FPV video", ThreatMedium},
}

// LookupBand returns the band containing freq.
func LookupBand(freq float64) (Band, bool) {
	for _, b := range bands {
		if freq >= b.Low && freq < b.High {
			return b, true
		}
	}
	return Band{}, false
}
