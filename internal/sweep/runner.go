package sweep

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/rfwatch/rfwatch/internal/sdr"
)

// Config configures a `hackrf_sweep` session.
type Config struct {
	FrequencyStart int64  `yaml:"frequencyStart"` // MHz
	FrequencyEnd   int64  `yaml:"frequencyEnd"`   // MHz
	BinWidth       int64  `yaml:"binWidth"`       // Hz
	LNAGain        int    `yaml:"lnaGain"`
	VGAGain        int    `yaml:"vgaGain"`
	AmpEnable      bool   `yaml:"ampEnable"`
	Serial         string `yaml:"serial"`
	OneShot        bool   `yaml:"oneShot"`
}

func (c *Config) Validate() error {
	if c.FrequencyStart >= c.FrequencyEnd {
		return errors.New("sweep.Config: frequency end must be greater than frequency start")
	}
	if c.BinWidth <= 0 {
		return errors.New("sweep.Config: bin width must be positive")
	}
	if c.LNAGain < 0 || c.LNAGain > sdr.MaxLNAGain || c.LNAGain%sdr.LNAGainStep != 0 {
		return fmt.Errorf("sweep.Config: LNA gain must be 0-%d dB in %d dB steps: %d given", sdr.MaxLNAGain, sdr.LNAGainStep, c.LNAGain)
	}
	if c.VGAGain < 0 || c.VGAGain > sdr.MaxVGAGain || c.VGAGain%sdr.VGAGainStep != 0 {
		return fmt.Errorf("sweep.Config: VGA gain must be 0-%d dB in %d dB steps: %d given", sdr.MaxVGAGain, sdr.VGAGainStep, c.VGAGain)
	}
	return nil
}

func (c *Config) args() []string {
	args := []string{
		"-f", strconv.FormatInt(c.FrequencyStart, 10) + ":" + strconv.FormatInt(c.FrequencyEnd, 10),
		"-w", strconv.FormatInt(c.BinWidth, 10),
		"-l", strconv.Itoa(c.LNAGain),
		"-g", strconv.Itoa(c.VGAGain),
	}
	if c.AmpEnable {
		args = append(args, "-a", "1")
	}
	if c.Serial != "" {
		args = append(args, "-d", c.Serial)
	}
	if c.OneShot {
		args = append(args, "-1")
	}
	return args
}

// Runner executes `hackrf_sweep` and feeds parsed segments to a
// callback. The device claim is held for the whole run.
type Runner struct {
	cfg      Config
	registry *sdr.Registry
	parser   *Parser
	logger   *slog.Logger
}

// RunnerOption configures optional runner behaviour.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger. Logging is disabled by
// default.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner validates cfg and prepares a sweep session.
func NewRunner(registry *sdr.Registry, cfg Config, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:      cfg,
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, opt := range opts {
		opt(r)
	}
	r.parser = NewParser(WithLogger(r.logger))
	return r, nil
}

// Malformed reports how many sweep lines were skipped so far.
func (r *Runner) Malformed() uint64 { return r.parser.Malformed() }

// Run claims the device, executes the sweep and delivers every segment
// to fn until the tool exits, ctx is cancelled, fn returns an error or
// the parser gives up on the stream.
func (r *Runner) Run(ctx context.Context, fn func(*Segment) error) error {
	key := sdr.DriverHackRF
	if r.cfg.Serial != "" {
		key += ":" + r.cfg.Serial
	}
	if err := r.registry.Claim(key); err != nil {
		return err
	}
	defer r.registry.Release(key)

	binPath, err := exec.LookPath("hackrf_sweep")
	if err != nil {
		return fmt.Errorf("%w: hackrf_sweep not found in PATH", sdr.ErrDeviceUnavailable)
	}

	cmd := exec.CommandContext(ctx, binPath, r.cfg.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", binPath, err)
	}
	defer cmd.Wait()

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			r.logger.Debug(sc.Text(), slog.String("tool", "hackrf_sweep"))
		}
	}()

	r.logger.Info("sweep started",
		slog.Int64("startMHz", r.cfg.FrequencyStart),
		slog.Int64("endMHz", r.cfg.FrequencyEnd),
		slog.Int64("binWidth", r.cfg.BinWidth))

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		seg, err := r.parser.ParseLine(sc.Text())
		if err != nil {
			if errors.Is(err, ErrTooManyParseErrors) {
				return err
			}
			continue
		}
		if seg == nil {
			continue
		}
		if err := fn(seg); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading sweep output: %w", err)
	}
	return nil
}
