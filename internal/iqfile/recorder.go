package iqfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/rfwatch/rfwatch/internal/sdr"
)

// Recorder appends sample blocks to an .iq payload and writes the
// sidecar on Close. It is owned by a single writer goroutine.
type Recorder struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	meta   Metadata
	logger *slog.Logger
	buf    []byte
	closed bool
}

// RecorderOption configures optional recorder behaviour.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the recorder logger. Logging is disabled by
// default.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder creates the payload file at path and remembers meta for
// the sidecar. SampleCount and Markers in meta are managed by the
// recorder and any caller-supplied values are discarded.
func NewRecorder(path string, meta Metadata, opts ...RecorderOption) (*Recorder, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}
	meta.SampleCount = 0
	meta.Markers = nil

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	r := &Recorder{
		path:   path,
		file:   file,
		w:      bufio.NewWriterSize(file, 1<<20),
		meta:   meta,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WriteBlock appends one block's samples to the payload.
func (r *Recorder) WriteBlock(block *sdr.SampleBlock) error {
	if r.closed {
		return ErrClosed
	}

	need := len(block.Samples) * bytesPerSample
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]
	for i, s := range block.Samples {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(imag(s)))
	}

	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("writing %s: %w", r.path, err)
	}
	r.meta.SampleCount += int64(len(block.Samples))
	return nil
}

// Mark pins a label to the current write position, e.g. a signal event
// that opened while the recording was running.
func (r *Recorder) Mark(label string) {
	if r.closed {
		return
	}
	r.meta.Markers = append(r.meta.Markers, Marker{
		Sample: r.meta.SampleCount,
		Label:  label,
	})
}

// SampleCount reports how many samples were written so far.
func (r *Recorder) SampleCount() int64 { return r.meta.SampleCount }

// Close flushes the payload and writes the sidecar. The recording is
// not playable until Close returns.
func (r *Recorder) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true

	if err := r.w.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("flushing %s: %w", r.path, err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", r.path, err)
	}

	sidecar, err := yaml.Marshal(&r.meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(sidecarPath(r.path), sidecar, 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}

	r.logger.Info("recording finished",
		slog.String("path", r.path),
		slog.Int64("samples", r.meta.SampleCount),
		slog.String("size", humanize.Bytes(uint64(r.meta.SampleCount)*bytesPerSample)),
		slog.Duration("duration", r.meta.Duration()))
	return nil
}
