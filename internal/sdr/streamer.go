package sdr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Streamer builds the capture subprocess for a driver and converts its
// raw stdout bytes into complex samples. The subprocess model follows
// the sweep tools: one long-running binary per session, samples on
// stdout, diagnostics on stderr.
type Streamer interface {
	// RecvCmd returns the receive command, ready to start, with sample
	// output on stdout.
	RecvCmd(ctx context.Context, cfg Config) (*exec.Cmd, error)

	// Convert fills out with complex samples decoded from raw. The raw
	// slice holds exactly len(out)*BytesPerSample() bytes.
	Convert(raw []byte, out []complex64)

	// BytesPerSample is the raw byte count of one complex sample.
	BytesPerSample() int

	// Device returns the driver name.
	Device() string
}

// TransmitStreamer is implemented by drivers that can also transmit,
// consuming raw samples on stdin.
type TransmitStreamer interface {
	Streamer
	SendCmd(ctx context.Context, cfg Config) (*exec.Cmd, error)
	Deconvert(in []complex64, raw []byte)
}

// NewStreamer returns the streamer for the configured driver.
func NewStreamer(cfg Config) (Streamer, error) {
	switch cfg.Driver {
	case DriverHackRF:
		return hackrfStreamer{}, nil
	case DriverRTLSDR:
		return rtlStreamer{}, nil
	default:
		return nil, fmt.Errorf("no streamer for driver %q", cfg.Driver)
	}
}

func findRuntime(name string) (string, error) {
	binPath, err := exec.LookPath(name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s not found in PATH", ErrDeviceUnavailable, name)
		}
		return "", fmt.Errorf("finding %s: %w", name, err)
	}
	return binPath, nil
}

// hackrfStreamer drives `hackrf_transfer`, which emits interleaved
// signed 8-bit I/Q pairs.
type hackrfStreamer struct{}

func (hackrfStreamer) Device() string      { return DriverHackRF }
func (hackrfStreamer) BytesPerSample() int { return 2 }

func (hackrfStreamer) RecvCmd(ctx context.Context, cfg Config) (*exec.Cmd, error) {
	binPath, err := findRuntime("hackrf_transfer")
	if err != nil {
		return nil, err
	}

	args := []string{
		"-r", "-",
		"-f", strconv.FormatInt(int64(cfg.CenterFreq), 10),
		"-s", strconv.FormatInt(int64(cfg.SampleRate), 10),
		"-l", strconv.Itoa(cfg.LNAGain),
		"-g", strconv.Itoa(cfg.VGAGain),
	}
	if cfg.AmpEnable {
		args = append(args, "-a", "1")
	}
	if cfg.Serial != "" {
		args = append(args, "-d", cfg.Serial)
	}

	return exec.CommandContext(ctx, binPath, args...), nil
}

func (hackrfStreamer) SendCmd(ctx context.Context, cfg Config) (*exec.Cmd, error) {
	binPath, err := findRuntime("hackrf_transfer")
	if err != nil {
		return nil, err
	}

	args := []string{
		"-t", "-",
		"-f", strconv.FormatInt(int64(cfg.CenterFreq), 10),
		"-s", strconv.FormatInt(int64(cfg.SampleRate), 10),
		"-x", strconv.Itoa(cfg.VGAGain),
	}
	if cfg.Serial != "" {
		args = append(args, "-d", cfg.Serial)
	}

	return exec.CommandContext(ctx, binPath, args...), nil
}

func (hackrfStreamer) Convert(raw []byte, out []complex64) {
	for i := range out {
		re := float32(int8(raw[2*i])) / 128
		im := float32(int8(raw[2*i+1])) / 128
		out[i] = complex(re, im)
	}
}

func (hackrfStreamer) Deconvert(in []complex64, raw []byte) {
	for i, s := range in {
		raw[2*i] = byte(int8(clampf(real(s)) * 127))
		raw[2*i+1] = byte(int8(clampf(imag(s)) * 127))
	}
}

// rtlStreamer drives `rtl_sdr`, which emits interleaved unsigned 8-bit
// I/Q pairs centered on 127.5.
type rtlStreamer struct{}

func (rtlStreamer) Device() string      { return DriverRTLSDR }
func (rtlStreamer) BytesPerSample() int { return 2 }

func (rtlStreamer) RecvCmd(ctx context.Context, cfg Config) (*exec.Cmd, error) {
	binPath, err := findRuntime("rtl_sdr")
	if err != nil {
		return nil, err
	}

	args := []string{
		"-f", strconv.FormatInt(int64(cfg.CenterFreq), 10),
		"-s", strconv.FormatInt(int64(cfg.SampleRate), 10),
	}
	if cfg.TunerGain > 0 {
		args = append(args, "-g", strconv.FormatFloat(float64(cfg.TunerGain)/10, 'f', 1, 64))
	}
	if cfg.Serial != "" {
		args = append(args, "-d", cfg.Serial)
	}
	args = append(args, "-")

	return exec.CommandContext(ctx, binPath, args...), nil
}

func (rtlStreamer) Convert(raw []byte, out []complex64) {
	for i := range out {
		re := (float32(raw[2*i]) - 127.5) / 127.5
		im := (float32(raw[2*i+1]) - 127.5) / 127.5
		out[i] = complex(re, im)
	}
}

func clampf(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
