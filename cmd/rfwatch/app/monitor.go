package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rfwatch/rfwatch/internal/classify"
	"github.com/rfwatch/rfwatch/internal/detect"
	"github.com/rfwatch/rfwatch/internal/iqfile"
	"github.com/rfwatch/rfwatch/internal/metrics"
	"github.com/rfwatch/rfwatch/internal/sdr"
	"github.com/rfwatch/rfwatch/internal/spectrum"
	"github.com/rfwatch/rfwatch/internal/storage"
)

// runMonitor drives the spectrum -> detector -> classifier pipeline on
// live capture, persisting every closed event.
func runMonitor(ctx context.Context, config *Config, registry *sdr.Registry, store *storage.Store, m *metrics.Metrics, logger *slog.Logger) error {
	mon := config.Monitor

	sessionID, err := store.CreateSession(ctx, "monitor", config.Device.DeviceKey(), config)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	analyzer, err := spectrum.NewAnalyzer(mon.Spectrum)
	if err != nil {
		return err
	}

	detector, err := detect.New(mon.Detector)
	if err != nil {
		return err
	}

	classifier, err := createClassifier(mon)
	if err != nil {
		return err
	}

	capture, err := sdr.OpenCapture(registry, config.Device, sdr.WithLogger(logger))
	if err != nil {
		return err
	}
	defer capture.Close()

	var recorder *iqfile.Recorder
	if mon.Record != "" {
		recorder, err = iqfile.NewRecorder(mon.Record, iqfile.Metadata{
			SampleRate: config.Device.SampleRate,
			CenterFreq: config.Device.CenterFreq,
			StartTime:  time.Now().UTC(),
			LNAGain:    config.Device.LNAGain,
			VGAGain:    config.Device.VGAGain,
		}, iqfile.WithRecorderLogger(logger))
		if err != nil {
			return err
		}
		defer recorder.Close()
	}

	detector.OnOpen(func(ev detect.Event) {
		m.EventsOpened.Inc()
		m.OpenEvents.Inc()
		logger.Info("signal event opened",
			slog.String("id", ev.ID.String()),
			slog.Float64("centerFreq", ev.Center()),
			slog.Float64("bandwidth", ev.Bandwidth()),
			slog.Float64("peakPower", ev.PeakPower))
		if recorder != nil {
			recorder.Mark(fmt.Sprintf("open %s @ %.0f Hz", ev.ID, ev.Center()))
		}
	})
	// Close events are also emitted during teardown, after ctx is
	// cancelled, and still need to reach the store.
	storeCtx := context.WithoutCancel(ctx)
	detector.OnClose(func(ev detect.Event) {
		m.EventsClosed.Inc()
		m.OpenEvents.Dec()

		cls := classifier.Classify(ev)
		logger.Info("signal event closed",
			slog.String("id", ev.ID.String()),
			slog.Float64("centerFreq", ev.Center()),
			slog.Duration("duration", ev.Duration()),
			slog.String("band", cls.Band),
			slog.String("modulation", cls.Modulation),
			slog.String("threat", string(cls.Threat)))

		if err := store.StoreEvent(storeCtx, sessionID, ev, cls); err != nil {
			logger.Error("storing event", slog.Any("error", err))
		}
	})

	if err := capture.Start(); err != nil {
		return err
	}

	var meter captureMeter
	for {
		if ctx.Err() != nil {
			break
		}

		block, err := capture.ReadBlock(readTimeout)
		meter.observe(capture.Dropped(), capture.Restarts(), m)
		if errors.Is(err, sdr.ErrTimeout) {
			continue
		}
		if err != nil {
			detector.Flush()
			return err
		}
		m.BlocksRead.Inc()

		frame, err := analyzer.Process(block)
		if err != nil {
			logger.Warn("skipping block", slog.Any("error", err))
			continue
		}
		m.FramesAnalyzed.Inc()
		m.NoiseFloorDB.Set(frame.NoiseFloor)
		if frame.Anomaly {
			logger.Warn("wideband anomaly",
				slog.Float64("noiseFloor", frame.NoiseFloor),
				slog.Int("peaks", len(frame.Peaks)))
		}

		detector.Process(frame)

		if recorder != nil {
			if err := recorder.WriteBlock(block); err != nil {
				logger.Error("recording failed, disabling", slog.Any("error", err))
				recorder.Close()
				recorder = nil
			}
		}
	}

	detector.Flush()
	if err := capture.Stop(shutdownTimeout); err != nil {
		return err
	}
	meter.observe(capture.Dropped(), capture.Restarts(), m)
	logger.Info("monitor session finished", slog.Uint64("droppedBlocks", capture.Dropped()))
	return nil
}

func createClassifier(mon *MonitorConfig) (*classify.Classifier, error) {
	var lib *classify.Library
	if mon.Fingerprints != "" {
		f, err := os.Open(mon.Fingerprints)
		if err != nil {
			return nil, fmt.Errorf("opening fingerprint library: %w", err)
		}
		lib, err = loadLibrary(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return classify.New(mon.Classifier, lib), nil
}

func loadLibrary(r io.Reader) (*classify.Library, error) {
	lib, err := classify.LoadLibrary(r)
	if err != nil {
		return nil, fmt.Errorf("loading fingerprint library: %w", err)
	}
	return lib, nil
}
