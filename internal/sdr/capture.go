package sdr

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueDepth  = 16
	defaultMaxRestarts = 5

	restartBackoffMin = 500 * time.Millisecond
	restartBackoffMax = 8 * time.Second
)

// Capture is an exec-backed Source: it runs the driver's streaming tool
// as a subprocess, reads raw IQ from its stdout in fixed-size blocks and
// hands converted SampleBlocks to ReadBlock. A dead subprocess is
// restarted with exponential backoff; once the retry budget is spent the
// source reports ErrDeviceLost.
type Capture struct {
	cfg      Config
	streamer Streamer
	registry *Registry
	logger   *slog.Logger

	queueDepth  int
	maxRestarts int

	blocks   chan *SampleBlock
	dropped  atomic.Uint64
	restarts atomic.Uint64

	mu         sync.Mutex // guards cfg and procCancel
	procCancel context.CancelFunc
	retuning   atomic.Bool

	running atomic.Bool
	lost    atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// CaptureOption configures optional Capture behaviour.
type CaptureOption func(*Capture)

// WithLogger sets the capture logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) CaptureOption {
	return func(c *Capture) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithQueueDepth sets how many blocks may queue between the reader and
// the consumer before the oldest block is dropped.
func WithQueueDepth(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.queueDepth = n
		}
	}
}

// WithMaxRestarts sets how many consecutive subprocess failures are
// tolerated before the device is declared lost.
func WithMaxRestarts(n int) CaptureOption {
	return func(c *Capture) {
		if n >= 0 {
			c.maxRestarts = n
		}
	}
}

// OpenCapture claims the configured device in the registry and prepares
// a capture session. The claim is held until Close.
func OpenCapture(registry *Registry, cfg Config, opts ...CaptureOption) (*Capture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	streamer, err := NewStreamer(cfg)
	if err != nil {
		return nil, err
	}

	if err := registry.Claim(cfg.DeviceKey()); err != nil {
		return nil, err
	}

	c := &Capture{
		cfg:         cfg,
		streamer:    streamer,
		registry:    registry,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		queueDepth:  defaultQueueDepth,
		maxRestarts: defaultMaxRestarts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches the subprocess and the block reader. It is an error to
// start a capture twice.
func (c *Capture) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("capture %s: already started", c.cfg.DeviceKey())
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.blocks = make(chan *SampleBlock, c.queueDepth)

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// ReadBlock returns the next queued block, waiting up to timeout. It
// fails with ErrTimeout when nothing arrives in time and ErrDeviceLost
// once the device is gone for good.
func (c *Capture) ReadBlock(timeout time.Duration) (*SampleBlock, error) {
	if c.lost.Load() {
		// Drain what the reader queued before it gave up.
		select {
		case b, ok := <-c.blocks:
			if ok {
				return b, nil
			}
		default:
		}
		return nil, fmt.Errorf("%w: %s", ErrDeviceLost, c.cfg.DeviceKey())
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case b, ok := <-c.blocks:
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceLost, c.cfg.DeviceKey())
		}
		return b, nil
	case <-t.C:
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

// Retune moves the session to a new center frequency by restarting the
// subprocess. The device claim is held across the restart, so no other
// session can steal the hardware in between.
func (c *Capture) Retune(centerFreq float64) error {
	if centerFreq <= 0 {
		return fmt.Errorf("retune: center frequency must be positive: %f given", centerFreq)
	}
	if !c.running.Load() {
		c.mu.Lock()
		c.cfg.CenterFreq = centerFreq
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.cfg.CenterFreq = centerFreq
	cancel := c.procCancel
	c.mu.Unlock()

	c.retuning.Store(true)
	if cancel != nil {
		cancel()
	}
	return nil
}

// Stop shuts the reader down and waits up to timeout for it to finish.
func (c *Capture) Stop(timeout time.Duration) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
		return nil
	case <-t.C:
		return fmt.Errorf("%w: capture %s", ErrShutdownTimeout, c.cfg.DeviceKey())
	}
}

// Close stops the capture if needed and releases the device claim.
func (c *Capture) Close() error {
	err := c.Stop(5 * time.Second)
	c.registry.Release(c.cfg.DeviceKey())
	return err
}

// Dropped reports how many blocks were discarded because the consumer
// fell behind.
func (c *Capture) Dropped() uint64 { return c.dropped.Load() }

// Restarts reports how many times the subprocess was restarted after an
// unexpected exit. Retunes do not count.
func (c *Capture) Restarts() uint64 { return c.restarts.Load() }

func (c *Capture) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.blocks)

	backoff := restartBackoffMin
	restarts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}

		if c.retuning.CompareAndSwap(true, false) {
			// Deliberate restart on a new frequency, not a failure.
			backoff = restartBackoffMin
			restarts = 0
			continue
		}

		restarts++
		if restarts > c.maxRestarts {
			c.logger.Error("device lost, giving up",
				slog.String("device", c.cfg.DeviceKey()),
				slog.Int("restarts", restarts-1),
				slog.Any("error", err))
			c.lost.Store(true)
			return
		}

		c.restarts.Add(1)
		c.logger.Warn("capture subprocess died, restarting",
			slog.String("device", c.cfg.DeviceKey()),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff = min(backoff*2, restartBackoffMax)
	}
}

// stream runs one subprocess to completion, pushing every full block it
// produces. It returns the reason the subprocess ended.
func (c *Capture) stream(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	cfg := c.cfg
	c.procCancel = cancel
	c.mu.Unlock()

	cmd, err := c.streamer.RecvCmd(procCtx, cfg)
	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	c.logger.Info("capture subprocess started",
		slog.String("device", cfg.DeviceKey()),
		slog.Float64("centerFreq", cfg.CenterFreq),
		slog.Float64("sampleRate", cfg.SampleRate))

	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			c.logger.Debug(sc.Text(), slog.String("device", cfg.DeviceKey()))
		}
	}()

	blockSize := cfg.blockSize()
	raw := make([]byte, blockSize*c.streamer.BytesPerSample())

	var readErr error
	for {
		if _, err := io.ReadFull(stdout, raw); err != nil {
			readErr = err
			break
		}
		samples := make([]complex64, blockSize)
		c.streamer.Convert(raw, samples)
		c.push(&SampleBlock{
			Timestamp:  time.Now(),
			SampleRate: cfg.SampleRate,
			CenterFreq: cfg.CenterFreq,
			Samples:    samples,
		})
	}

	stderrWG.Wait()
	if err := cmd.Wait(); err != nil && procCtx.Err() == nil {
		return fmt.Errorf("%s exited: %w", cmd.Path, err)
	}
	if procCtx.Err() != nil {
		return procCtx.Err()
	}
	return fmt.Errorf("reading samples: %w", readErr)
}

// push enqueues a block, dropping the oldest queued block when the
// consumer has fallen behind. Capture never blocks on a slow consumer.
func (c *Capture) push(b *SampleBlock) {
	select {
	case c.blocks <- b:
		return
	default:
	}
	select {
	case <-c.blocks:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.blocks <- b:
	default:
	}
}

// Transmitter streams complex samples to a device that supports
// transmit. Samples are written as raw bytes to the tool's stdin.
type Transmitter struct {
	cfg      Config
	streamer TransmitStreamer
	registry *Registry
	logger   *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	raw    []byte
}

// OpenTransmitter claims the device and starts the transmit subprocess.
func OpenTransmitter(registry *Registry, cfg Config, opts ...CaptureOption) (*Transmitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	streamer, err := NewStreamer(cfg)
	if err != nil {
		return nil, err
	}
	ts, ok := streamer.(TransmitStreamer)
	if !ok {
		return nil, fmt.Errorf("driver %s cannot transmit", cfg.Driver)
	}

	if err := registry.Claim(cfg.DeviceKey()); err != nil {
		return nil, err
	}

	carrier := &Capture{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(carrier)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd, err := ts.SendCmd(ctx, cfg)
	if err != nil {
		cancel()
		registry.Release(cfg.DeviceKey())
		return nil, err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		registry.Release(cfg.DeviceKey())
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		registry.Release(cfg.DeviceKey())
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	return &Transmitter{
		cfg:      cfg,
		streamer: ts,
		registry: registry,
		logger:   carrier.logger,
		cmd:      cmd,
		stdin:    stdin,
		cancel:   cancel,
	}, nil
}

// Write converts and sends one run of samples.
func (t *Transmitter) Write(samples []complex64) error {
	need := len(samples) * t.streamer.BytesPerSample()
	if cap(t.raw) < need {
		t.raw = make([]byte, need)
	}
	t.raw = t.raw[:need]
	t.streamer.Deconvert(samples, t.raw)

	if _, err := t.stdin.Write(t.raw); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}
	return nil
}

// Close flushes stdin, terminates the subprocess and releases the
// device claim.
func (t *Transmitter) Close() error {
	err := t.stdin.Close()
	waitErr := t.cmd.Wait()
	t.cancel()
	t.registry.Release(t.cfg.DeviceKey())
	if err != nil {
		return err
	}
	if waitErr != nil {
		return fmt.Errorf("%s exited: %w", t.cmd.Path, waitErr)
	}
	return nil
}
