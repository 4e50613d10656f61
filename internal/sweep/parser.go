// Package sweep parses `hackrf_sweep`-style CSV output into wideband
// spectrum segments. Malformed lines are skipped and counted; a run of
// consecutive failures aborts the session, since that means the tool
// is not speaking the expected format at all.
package sweep

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedLine marks one unparseable sweep line.
	ErrMalformedLine = errors.New("malformed sweep line")

	// ErrTooManyParseErrors aborts a session after too many malformed
	// lines in a row.
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")
)

// DefaultParseErrorsThreshold is how many consecutive malformed lines
// are tolerated before the stream is declared broken.
const DefaultParseErrorsThreshold = 10

const timestampLayout = "2006-01-02 15:04:05.000000"

// Segment is one sweep line: a contiguous run of power bins.
type Segment struct {
	Timestamp  time.Time
	FreqLow    float64 // Hz
	FreqHigh   float64 // Hz
	BinWidth   float64 // Hz
	NumSamples int
	Power      []float64 // dB, one per bin
}

// BinFreq returns the center frequency of bin i.
func (s *Segment) BinFreq(i int) float64 {
	return s.FreqLow + float64(i)*s.BinWidth + s.BinWidth/2
}

// Parser turns sweep CSV lines into segments while tracking error
// counts. It is owned by a single reader goroutine.
type Parser struct {
	logger    *slog.Logger
	threshold int

	consecutive int
	malformed   uint64
}

// ParserOption configures optional parser behaviour.
type ParserOption func(*Parser)

// WithLogger sets the parser logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithParseErrorsThreshold overrides the consecutive-error limit.
func WithParseErrorsThreshold(n int) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// NewParser builds a sweep line parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		threshold: DefaultParseErrorsThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Malformed reports how many lines were skipped so far.
func (p *Parser) Malformed() uint64 { return p.malformed }

// ParseLine parses one CSV line. Blank lines return (nil, nil). A
// malformed line returns ErrMalformedLine, and once the consecutive
// failure threshold is crossed the error wraps ErrTooManyParseErrors
// instead, which callers must treat as fatal.
func (p *Parser) ParseLine(line string) (*Segment, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	seg, err := parseSegment(line)
	if err != nil {
		p.malformed++
		p.consecutive++
		p.logger.Warn("skipping sweep line",
			slog.Int("consecutive", p.consecutive),
			slog.Any("error", err))
		if p.consecutive >= p.threshold {
			return nil, fmt.Errorf("%w: %d lines", ErrTooManyParseErrors, p.consecutive)
		}
		return nil, err
	}

	p.consecutive = 0
	return seg, nil
}

func parseSegment(line string) (*Segment, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedLine, len(fields))
	}

	dateTime := strings.TrimSpace(fields[0]) + " " + strings.TrimSpace(fields[1])
	ts, err := time.Parse(timestampLayout, dateTime)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %s", ErrMalformedLine, err)
	}

	freqLow, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: start frequency: %s", ErrMalformedLine, err)
	}
	freqHigh, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: end frequency: %s", ErrMalformedLine, err)
	}
	binWidth, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bin width: %s", ErrMalformedLine, err)
	}
	numSamples, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return nil, fmt.Errorf("%w: number of samples: %s", ErrMalformedLine, err)
	}

	seg := &Segment{
		Timestamp:  ts,
		FreqLow:    freqLow,
		FreqHigh:   freqHigh,
		BinWidth:   binWidth,
		NumSamples: numSamples,
		Power:      make([]float64, 0, len(fields)-6),
	}
	for _, field := range fields[6:] {
		power, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: power value: %s", ErrMalformedLine, err)
		}
		seg.Power = append(seg.Power, power)
	}

	return seg, nil
}
