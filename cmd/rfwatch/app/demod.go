package app

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/rfwatch/rfwatch/internal/demod"
	"github.com/rfwatch/rfwatch/internal/metrics"
	"github.com/rfwatch/rfwatch/internal/sdr"
	"github.com/rfwatch/rfwatch/internal/storage"
)

// runDemod drives one demodulator over live capture, writing raw
// float32 audio to the configured sink.
func runDemod(ctx context.Context, config *Config, registry *sdr.Registry, store *storage.Store, m *metrics.Metrics, logger *slog.Logger) error {
	dm := config.Demod

	if _, err := store.CreateSession(ctx, "demod", config.Device.DeviceKey(), config); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	bank, err := demod.NewBank(dm.Demodulator, demod.WithLogger(logger))
	if err != nil {
		return err
	}

	audioOut, flush, err := openAudioSink(dm.AudioOut)
	if err != nil {
		return err
	}
	defer flush()

	capture, err := sdr.OpenCapture(registry, config.Device, sdr.WithLogger(logger))
	if err != nil {
		return err
	}
	defer capture.Close()

	if err := capture.Start(); err != nil {
		return err
	}

	logger.Info("demodulator session started",
		slog.String("mode", string(dm.Demodulator.Mode)),
		slog.Float64("centerFreq", config.Device.CenterFreq))

	var (
		meter     captureMeter
		sampleBuf []byte
	)
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
			return err
		}
		m.BlocksRead.Inc()

		audio, err := bank.Process(block)
		if err != nil {
			return fmt.Errorf("demodulating: %w", err)
		}

		need := len(audio.Samples) * 4
		if cap(sampleBuf) < need {
			sampleBuf = make([]byte, need)
		}
		buf := sampleBuf[:need]
		for i, s := range audio.Samples {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
		}
		if _, err := audioOut.Write(buf); err != nil {
			return fmt.Errorf("writing audio: %w", err)
		}

		if len(audio.Pulses) > 0 {
			pattern := demod.ClassifyPulses(audio.Pulses)
			logger.Info("pulse burst",
				slog.Int("pulses", len(audio.Pulses)),
				slog.String("pattern", pattern))
		}
	}

	return capture.Stop(shutdownTimeout)
}

func openAudioSink(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating audio sink: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<16)
	return w, func() {
		w.Flush()
		f.Close()
	}, nil
}
