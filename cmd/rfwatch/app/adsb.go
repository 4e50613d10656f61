package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/rfwatch/rfwatch/internal/adsb"
	"github.com/rfwatch/rfwatch/internal/metrics"
	"github.com/rfwatch/rfwatch/internal/pipeline"
	"github.com/rfwatch/rfwatch/internal/sdr"
	"github.com/rfwatch/rfwatch/internal/storage"
)

const defaultSnapshotInterval = 10 * time.Second

// runADSB drives the Mode S decode session from the configured source
// and persists the aircraft table when the session ends.
func runADSB(ctx context.Context, config *Config, registry *sdr.Registry, store *storage.Store, m *metrics.Metrics, logger *slog.Logger) error {
	ac := config.ADSB

	device := ac.Address
	if ac.Source == ADSBSourceSDR {
		device = config.Device.DeviceKey()
	}
	sessionID, err := store.CreateSession(ctx, "adsb", device, config)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	tracker := adsb.NewTracker(ac.Tracker, adsb.WithTrackerLogger(logger))

	interval := ac.SnapshotInterval.Std()
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	report := func() {
		now := time.Now()
		snapshot := tracker.Snapshot(now)
		m.AircraftSeen.Set(float64(len(snapshot)))

		fresh := 0
		for _, a := range snapshot {
			if !a.Stale {
				fresh++
			}
		}
		logger.Info("aircraft table",
			slog.Int("total", len(snapshot)),
			slog.Int("fresh", fresh))
	}

	var runErr error
	switch ac.Source {
	case ADSBSourceSDR:
		runErr = decodeFromSDR(ctx, config, registry, tracker, m, ticker.C, report, logger)
	case ADSBSourceBeast:
		runErr = decodeFromBeast(ctx, ac.Address, tracker, m, ticker.C, report, logger)
	case ADSBSourceSBS:
		runErr = decodeFromSBS(ctx, ac.Address, tracker, ticker.C, report, logger)
	default:
		return fmt.Errorf("unknown ADS-B source %q", ac.Source)
	}

	// The final table is worth keeping even when the source failed.
	snapshot := tracker.Snapshot(time.Now())
	sightings := make([]storage.SightingData, 0, len(snapshot))
	for _, a := range snapshot {
		sightings = append(sightings, storage.ToSightingData(sessionID, a))
	}
	if err := store.StoreSightings(context.WithoutCancel(ctx), sightings); err != nil {
		logger.Error("storing sightings", slog.Any("error", err))
	}
	logger.Info("decode session finished", slog.Int("aircraft", len(sightings)))

	return runErr
}

const decodeQueueDepth = 8

func decodeFromSDR(ctx context.Context, config *Config, registry *sdr.Registry, tracker *adsb.Tracker, m *metrics.Metrics, tick <-chan time.Time, report func(), logger *slog.Logger) error {
	decoder := adsb.NewDecoder(adsb.WithDecoderLogger(logger))

	capture, err := sdr.OpenCapture(registry, config.Device, sdr.WithLogger(logger))
	if err != nil {
		return err
	}
	defer capture.Close()

	if err := capture.Start(); err != nil {
		return err
	}

	// Decoding must not skip blocks, so the handoff queue blocks the
	// reader instead of dropping.
	queue := pipeline.NewQueue[*sdr.SampleBlock](decodeQueueDepth, pipeline.Block)

	var readErr error
	go func() {
		defer queue.Close()
		for ctx.Err() == nil {
			block, err := capture.ReadBlock(readTimeout)
			if errors.Is(err, sdr.ErrTimeout) {
				continue
			}
			if err != nil {
				readErr = err
				return
			}
			m.BlocksRead.Inc()
			if queue.Push(ctx, block) != nil {
				return
			}
		}
	}()

	var (
		meter captureMeter
		last  adsb.DecoderStats
	)
	for {
		select {
		case <-ctx.Done():
			return capture.Stop(shutdownTimeout)
		case <-tick:
			report()
		case block, ok := <-queue.Items():
			if !ok {
				// The queue closing is ordered after the reader
				// recorded its error.
				if stopErr := capture.Stop(shutdownTimeout); stopErr != nil {
					return stopErr
				}
				return readErr
			}
			meter.observe(capture.Dropped(), capture.Restarts(), m)

			msgs, err := decoder.ProcessBlock(block)
			if err != nil {
				return fmt.Errorf("decoding block: %w", err)
			}

			stats := decoder.Stats()
			m.Preambles.Add(float64(stats.Preambles - last.Preambles))
			m.Decoded.Add(float64(stats.Decoded - last.Decoded))
			m.CRCFailures.Add(float64(stats.CRCFailures - last.CRCFailures))
			last = stats

			for _, msg := range msgs {
				tracker.Update(msg)
			}
		}
	}
}

func decodeFromBeast(ctx context.Context, address string, tracker *adsb.Tracker, m *metrics.Metrics, tick <-chan time.Time, report func(), logger *slog.Logger) error {
	conn, err := dial(ctx, address)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The feed read blocks on the socket, so it runs on its own
	// goroutine and hands frames over a queue the decode loop can
	// select on next to the report tick.
	reader := adsb.NewBeastReader(conn, adsb.WithBeastLogger(logger))
	queue := pipeline.NewQueue[*adsb.BeastFrame](decodeQueueDepth, pipeline.Block)

	var readErr error
	go func() {
		defer queue.Close()
		for {
			frame, err := reader.Read()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					readErr = fmt.Errorf("reading beast feed: %w", err)
				}
				return
			}
			if queue.Push(ctx, frame) != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			report()
		case frame, ok := <-queue.Items():
			if !ok {
				return readErr
			}

			msg, err := frame.Message(time.Now())
			if err != nil {
				m.CRCFailures.Inc()
				continue
			}
			m.Decoded.Inc()
			tracker.Update(msg)
		}
	}
}

func decodeFromSBS(ctx context.Context, address string, tracker *adsb.Tracker, tick <-chan time.Time, report func(), logger *slog.Logger) error {
	conn, err := dial(ctx, address)
	if err != nil {
		return err
	}
	defer conn.Close()

	queue := pipeline.NewQueue[string](decodeQueueDepth, pipeline.Block)

	var readErr error
	go func() {
		defer queue.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			if queue.Push(ctx, sc.Text()) != nil {
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			readErr = fmt.Errorf("reading SBS feed: %w", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			report()
		case line, ok := <-queue.Items():
			if !ok {
				return readErr
			}

			rec, err := adsb.ParseSBSLine(line, time.Now())
			if err != nil {
				logger.Debug("skipping SBS line", slog.Any("error", err))
				continue
			}
			if rec == nil {
				continue
			}
			tracker.UpdateSBS(rec)
		}
	}
}

// dial connects with ctx and arranges for cancellation to unblock any
// pending read.
func dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return conn, nil
}
