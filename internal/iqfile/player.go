package iqfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rfwatch/rfwatch/internal/sdr"
)

// ErrRetuneUnsupported is returned by Player.Retune: a recording has
// one fixed center frequency.
var ErrRetuneUnsupported = errors.New("cannot retune a recording")

// Player replays a recorded capture as an sdr.Source, pacing blocks at
// the recorded sample rate so downstream consumers see live-like
// timing. Pacing can be disabled for faster-than-realtime processing.
type Player struct {
	path      string
	file      *os.File
	r         *bufio.Reader
	meta      Metadata
	logger    *slog.Logger
	blockSize int
	paced     bool

	started time.Time
	offset  int64 // samples handed out so far
	buf     []byte
	closed  bool
}

// PlayerOption configures optional player behaviour.
type PlayerOption func(*Player)

// WithPlayerLogger sets the player logger. Logging is disabled by
// default.
func WithPlayerLogger(logger *slog.Logger) PlayerOption {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPlayerBlockSize overrides the number of samples per emitted
// block.
func WithPlayerBlockSize(n int) PlayerOption {
	return func(p *Player) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithPacing enables or disables realtime pacing. Enabled by default.
func WithPacing(enabled bool) PlayerOption {
	return func(p *Player) {
		p.paced = enabled
	}
}

// Open loads a recording for playback. A payload without its sidecar
// is rejected with ErrMissingMetadata: there is no safe way to guess
// the sample rate or center frequency.
func Open(path string, opts ...PlayerOption) (*Player, error) {
	sidecar, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingMetadata, sidecarPath(path))
		}
		return nil, fmt.Errorf("reading sidecar: %w", err)
	}

	var meta Metadata
	if err := yaml.Unmarshal(sidecar, &meta); err != nil {
		return nil, fmt.Errorf("decoding sidecar: %w", err)
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	p := &Player{
		path:      path,
		file:      file,
		r:         bufio.NewReaderSize(file, 1<<20),
		meta:      meta,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		blockSize: sdr.DefaultBlockSize,
		paced:     true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Meta returns the sidecar metadata.
func (p *Player) Meta() Metadata { return p.meta }

// Start resets the pacing clock. It may be called once per playback.
func (p *Player) Start() error {
	if p.closed {
		return ErrClosed
	}
	p.started = time.Now()
	p.logger.Info("playback started",
		slog.String("path", p.path),
		slog.Float64("sampleRate", p.meta.SampleRate),
		slog.Duration("duration", p.meta.Duration()))
	return nil
}

// ReadBlock returns the next block of the recording. When pacing is on
// and the next block is not yet due within timeout, it returns
// sdr.ErrTimeout without consuming anything. End of recording is
// io.EOF.
func (p *Player) ReadBlock(timeout time.Duration) (*sdr.SampleBlock, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.started.IsZero() {
		p.started = time.Now()
	}

	if p.paced {
		due := p.started.Add(time.Duration(float64(p.offset) / p.meta.SampleRate * float64(time.Second)))
		wait := time.Until(due)
		if wait > timeout {
			time.Sleep(timeout)
			return nil, sdr.ErrTimeout
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	need := p.blockSize * bytesPerSample
	if cap(p.buf) < need {
		p.buf = make([]byte, need)
	}
	n, err := io.ReadFull(p.r, p.buf[:need])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading %s: %w", p.path, err)
	}
	n -= n % bytesPerSample
	if n == 0 {
		return nil, io.EOF
	}

	samples := make([]complex64, n/bytesPerSample)
	for i := range samples {
		re := math.Float32frombits(binary.LittleEndian.Uint32(p.buf[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(p.buf[i*8+4:]))
		samples[i] = complex(re, im)
	}

	block := &sdr.SampleBlock{
		Timestamp:  p.meta.StartTime.Add(time.Duration(float64(p.offset) / p.meta.SampleRate * float64(time.Second))),
		SampleRate: p.meta.SampleRate,
		CenterFreq: p.meta.CenterFreq,
		Samples:    samples,
	}
	p.offset += int64(len(samples))
	return block, nil
}

// Retune always fails: the recording was made at one center frequency.
func (p *Player) Retune(centerFreq float64) error {
	return fmt.Errorf("%w: recorded at %.0f Hz", ErrRetuneUnsupported, p.meta.CenterFreq)
}

// Stop is a no-op for file playback; the next ReadBlock simply never
// happens.
func (p *Player) Stop(timeout time.Duration) error { return nil }

// Close releases the payload file handle.
func (p *Player) Close() error {
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	return p.file.Close()
}
