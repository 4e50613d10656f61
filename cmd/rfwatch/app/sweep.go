package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rfwatch/rfwatch/internal/metrics"
	"github.com/rfwatch/rfwatch/internal/sdr"
	"github.com/rfwatch/rfwatch/internal/storage"
	"github.com/rfwatch/rfwatch/internal/sweep"
)

// runSweep executes a wideband sweep session, reporting the strongest
// bin seen per log interval.
func runSweep(ctx context.Context, config *Config, registry *sdr.Registry, store *storage.Store, m *metrics.Metrics, logger *slog.Logger) error {
	sw := config.Sweep

	device := sdr.DriverHackRF
	if sw.Serial != "" {
		device += ":" + sw.Serial
	}
	if _, err := store.CreateSession(ctx, "sweep", device, config); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	runner, err := sweep.NewRunner(registry, *sw, sweep.WithRunnerLogger(logger))
	if err != nil {
		return err
	}

	const logEvery = 1000

	var (
		segments  int
		bestPower = -999.0
		bestFreq  float64
	)
	err = runner.Run(ctx, func(seg *sweep.Segment) error {
		m.SweepSegments.Inc()
		segments++

		for i, p := range seg.Power {
			if p > bestPower {
				bestPower = p
				bestFreq = seg.BinFreq(i)
			}
		}

		if segments%logEvery == 0 {
			logger.Info("sweep progress",
				slog.Int("segments", segments),
				slog.Float64("strongestFreq", bestFreq),
				slog.Float64("strongestPower", bestPower))
			bestPower = -999.0
		}
		return nil
	})
	m.MalformedLines.Add(float64(runner.Malformed()))
	if ctx.Err() != nil && err == ctx.Err() {
		err = nil
	}
	return err
}
