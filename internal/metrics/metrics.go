// Package metrics exposes the engine's operational counters to
// Prometheus. One Metrics value is shared by all sessions of a
// process; the caller decides whether to serve it over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	// Capture path
	BlocksRead     prometheus.Counter
	BlocksDropped  prometheus.Counter
	DeviceRestarts prometheus.Counter

	// Detection path
	FramesAnalyzed prometheus.Counter
	EventsOpened   prometheus.Counter
	EventsClosed   prometheus.Counter
	OpenEvents     prometheus.Gauge
	NoiseFloorDB   prometheus.Gauge

	// Decode path
	Preambles    prometheus.Counter
	Decoded      prometheus.Counter
	CRCFailures  prometheus.Counter
	AircraftSeen prometheus.Gauge

	// Sweep path
	SweepSegments  prometheus.Counter
	MalformedLines prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		BlocksRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_blocks_read_total",
			Help: "Sample blocks delivered by the capture source",
		}),
		BlocksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_blocks_dropped_total",
			Help: "Sample blocks dropped because the consumer fell behind",
		}),
		DeviceRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_device_restarts_total",
			Help: "Capture subprocess restarts after unexpected exits",
		}),

		FramesAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_frames_analyzed_total",
			Help: "Spectrum frames produced by the analyzer",
		}),
		EventsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_events_opened_total",
			Help: "Signal events confirmed open by the detector",
		}),
		EventsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_events_closed_total",
			Help: "Signal events closed by the detector",
		}),
		OpenEvents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rfwatch_open_events",
			Help: "Signal events currently open",
		}),
		NoiseFloorDB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rfwatch_noise_floor_db",
			Help: "Estimated noise floor of the last spectrum frame in dB",
		}),

		Preambles: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_adsb_preambles_total",
			Help: "Mode S preamble candidates that passed the shape test",
		}),
		Decoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_adsb_decoded_total",
			Help: "Mode S frames decoded with a valid checksum",
		}),
		CRCFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_adsb_crc_failures_total",
			Help: "Mode S frames rejected by the checksum",
		}),
		AircraftSeen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rfwatch_adsb_aircraft",
			Help: "Aircraft currently in the tracker table, stale included",
		}),

		SweepSegments: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_sweep_segments_total",
			Help: "Sweep segments parsed successfully",
		}),
		MalformedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfwatch_sweep_malformed_lines_total",
			Help: "Sweep lines skipped as malformed",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
