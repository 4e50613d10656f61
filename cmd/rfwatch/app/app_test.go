package app

import (
	"testing"

	"github.com/rfwatch/rfwatch/internal/metrics"
)

func gatherCounter(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("counter %s not registered", name)
	return 0
}

func TestCaptureMeterEmitsDeltas(t *testing.T) {
	m := metrics.New()
	var meter captureMeter

	meter.observe(3, 1, m)
	meter.observe(3, 1, m) // unchanged, nothing added
	meter.observe(7, 2, m)

	if got := gatherCounter(t, m, "rfwatch_blocks_dropped_total"); got != 7 {
		t.Errorf("blocks dropped = %f, want 7", got)
	}
	if got := gatherCounter(t, m, "rfwatch_device_restarts_total"); got != 2 {
		t.Errorf("device restarts = %f, want 2", got)
	}
}
