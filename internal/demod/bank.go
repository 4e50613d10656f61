package demod

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/rfwatch/rfwatch/internal/sdr"
)

// Audio is the product of one demodulated block.
type Audio struct {
	Mode    Mode
	Rate    float64 // Hz
	Samples []float32

	// Pulses carries OOK level runs; nil in every other mode.
	Pulses []Pulse
}

// Bank runs the active demodulator and applies mode switches at block
// boundaries. Process belongs to a single worker; SetConfig may be
// called from anywhere.
type Bank struct {
	logger *slog.Logger

	cfg Config
	cur demodulator

	pending atomic.Pointer[Config]
	applied atomic.Pointer[Config]
}

// Option configures optional bank behaviour.
type Option func(*Bank)

// WithLogger sets the bank logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bank) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBank validates cfg and builds a bank with its demodulator ready.
func NewBank(cfg Config, opts ...Option) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	b := &Bank{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		cfg:    cfg,
		cur:    newDemodulator(cfg),
	}
	b.applied.Store(&cfg)
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SetConfig schedules a mode switch for the next block boundary. A
// second switch before the first one lands fails with
// ErrModeSwitchBusy.
func (b *Bank) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	if !b.pending.CompareAndSwap(nil, &cfg) {
		return ErrModeSwitchBusy
	}
	return nil
}

// Config returns the most recently applied configuration.
func (b *Bank) Config() Config {
	return *b.applied.Load()
}

// Process demodulates one block. A pending mode switch is applied
// first, so a block is never split across modes.
func (b *Bank) Process(block *sdr.SampleBlock) (*Audio, error) {
	if next := b.pending.Swap(nil); next != nil {
		b.logger.Info("switching demodulator",
			slog.String("from", string(b.cfg.Mode)),
			slog.String("to", string(next.Mode)))
		b.cfg = *next
		b.cur = newDemodulator(b.cfg)
		b.applied.Store(next)
	}

	if block.SampleRate != b.cfg.SampleRate {
		return nil, fmt.Errorf("sample rate mismatch: block %f, demodulator %f", block.SampleRate, b.cfg.SampleRate)
	}

	audio := &Audio{
		Mode:    b.cfg.Mode,
		Rate:    b.cfg.AudioRate,
		Samples: b.cur.process(block.Samples, nil),
	}
	if ook, ok := b.cur.(*ookDemod); ok {
		audio.Pulses = ook.drain()
	}
	return audio, nil
}
