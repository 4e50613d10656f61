// iqtool records raw IQ capture files and plays them back, optionally
// into the transmit path for replay.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/rfwatch/rfwatch/internal/iqfile"
	"github.com/rfwatch/rfwatch/internal/sdr"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "record":
		err = record(ctx, os.Args[2:], logger)
	case "play":
		err = play(ctx, os.Args[2:], logger)
	case "info":
		err = info(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  iqtool record -o capture.iq --freq 433.92e6 --rate 2e6 [flags]
  iqtool play -i capture.iq [--transmit] [flags]
  iqtool info capture.iq`)
}

func record(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("record", pflag.ExitOnError)
	out := fs.StringP("out", "o", "", "Output .iq file path")
	driver := fs.String("driver", sdr.DriverHackRF, "Device driver (hackrf, rtl-sdr)")
	serial := fs.String("serial", "", "Device serial or index")
	freq := fs.Float64P("freq", "f", 0, "Center frequency in Hz")
	rate := fs.Float64P("rate", "r", 2e6, "Sample rate in Hz")
	lna := fs.Int("lna", 16, "LNA gain in dB (hackrf)")
	vga := fs.Int("vga", 20, "VGA gain in dB (hackrf)")
	duration := fs.DurationP("duration", "d", 0, "Recording duration (0 = until interrupted)")
	fs.Parse(args)

	if *out == "" || *freq == 0 {
		return errors.New("record: --out and --freq are required")
	}

	cfg := sdr.Config{
		Driver:     *driver,
		Serial:     *serial,
		CenterFreq: *freq,
		SampleRate: *rate,
		LNAGain:    *lna,
		VGAGain:    *vga,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry := sdr.NewRegistry()
	capture, err := sdr.OpenCapture(registry, cfg, sdr.WithLogger(logger))
	if err != nil {
		return err
	}
	defer capture.Close()

	recorder, err := iqfile.NewRecorder(*out, iqfile.Metadata{
		SampleRate: *rate,
		CenterFreq: *freq,
		StartTime:  time.Now().UTC(),
		LNAGain:    *lna,
		VGAGain:    *vga,
	}, iqfile.WithRecorderLogger(logger))
	if err != nil {
		return err
	}

	if err := capture.Start(); err != nil {
		recorder.Close()
		return err
	}

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("recording", slog.String("path", *out), slog.Float64("centerFreq", *freq))

	const progressEvery = 5 * time.Second
	lastProgress := time.Now()
	for ctx.Err() == nil {
		block, err := capture.ReadBlock(time.Second)
		if errors.Is(err, sdr.ErrTimeout) {
			continue
		}
		if err != nil {
			recorder.Close()
			return err
		}
		if err := recorder.WriteBlock(block); err != nil {
			recorder.Close()
			return err
		}

		if time.Since(lastProgress) >= progressEvery {
			lastProgress = time.Now()
			logger.Info("progress",
				slog.String("written", humanize.Bytes(uint64(recorder.SampleCount())*8)),
				slog.String("duration", fmt.Sprintf("%.1fs", float64(recorder.SampleCount())/(*rate))))
		}
	}

	if err := capture.Stop(5 * time.Second); err != nil {
		recorder.Close()
		return err
	}
	return recorder.Close()
}

func play(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("play", pflag.ExitOnError)
	in := fs.StringP("in", "i", "", "Input .iq file path")
	transmit := fs.BoolP("transmit", "t", false, "Feed the recording into hackrf_transfer -t")
	serial := fs.String("serial", "", "Transmit device serial")
	fs.Parse(args)

	if *in == "" {
		return errors.New("play: --in is required")
	}

	player, err := iqfile.Open(*in, iqfile.WithPlayerLogger(logger))
	if err != nil {
		return err
	}
	defer player.Close()

	meta := player.Meta()
	logger.Info("playing",
		slog.String("path", *in),
		slog.Float64("centerFreq", meta.CenterFreq),
		slog.Float64("sampleRate", meta.SampleRate),
		slog.Duration("duration", meta.Duration()))

	var tx *sdr.Transmitter
	if *transmit {
		cfg := sdr.Config{
			Driver:     sdr.DriverHackRF,
			Serial:     *serial,
			CenterFreq: meta.CenterFreq,
			SampleRate: meta.SampleRate,
			LNAGain:    meta.LNAGain,
			VGAGain:    meta.VGAGain,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		tx, err = sdr.OpenTransmitter(sdr.NewRegistry(), cfg, sdr.WithLogger(logger))
		if err != nil {
			return err
		}
		defer tx.Close()
	}

	if err := player.Start(); err != nil {
		return err
	}

	var played int64
	for ctx.Err() == nil {
		block, err := player.ReadBlock(time.Second)
		if errors.Is(err, sdr.ErrTimeout) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if tx != nil {
			if err := tx.Write(block.Samples); err != nil {
				return err
			}
		}
		played += int64(len(block.Samples))
	}

	logger.Info("playback finished",
		slog.String("played", humanize.Bytes(uint64(played)*8)),
		slog.Int64("samples", played))
	return nil
}

func info(args []string) error {
	if len(args) != 1 {
		return errors.New("info: exactly one .iq path expected")
	}

	player, err := iqfile.Open(args[0], iqfile.WithPacing(false))
	if err != nil {
		return err
	}
	defer player.Close()

	meta := player.Meta()
	fmt.Printf("file:         %s\n", args[0])
	fmt.Printf("sample rate:  %.0f Hz\n", meta.SampleRate)
	fmt.Printf("center freq:  %.0f Hz\n", meta.CenterFreq)
	fmt.Printf("started:      %s\n", meta.StartTime.Format(time.RFC3339))
	fmt.Printf("samples:      %d (%s)\n", meta.SampleCount, humanize.Bytes(uint64(meta.SampleCount)*8))
	fmt.Printf("duration:     %s\n", meta.Duration())
	if meta.LNAGain != 0 || meta.VGAGain != 0 {
		fmt.Printf("gains:        LNA %d dB, VGA %d dB\n", meta.LNAGain, meta.VGAGain)
	}
	for _, marker := range meta.Markers {
		at := time.Duration(float64(marker.Sample) / meta.SampleRate * float64(time.Second))
		fmt.Printf("marker:       %s  %s\n", at, marker.Label)
	}
	return nil
}
