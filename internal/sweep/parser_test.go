package sweep

import (
	"errors"
	"testing"
)

const goodLine = "2026-03-14, 09:15:30.123456, 2400000000, 2405000000, 1000000.00, 8192, -65.5, -64.2, -70.1, -66.8, -63.9"

func TestParseLine(t *testing.T) {
	p := NewParser()

	seg, err := p.ParseLine(goodLine)
	if err != nil {
		t.Fatalf("ParseLine() error = %v", err)
	}

	if seg.FreqLow != 2400000000 || seg.FreqHigh != 2405000000 {
		t.Errorf("range = [%f, %f], want [2.4e9, 2.405e9]", seg.FreqLow, seg.FreqHigh)
	}
	if seg.BinWidth != 1000000 {
		t.Errorf("BinWidth = %f, want 1e6", seg.BinWidth)
	}
	if seg.NumSamples != 8192 {
		t.Errorf("NumSamples = %d, want 8192", seg.NumSamples)
	}
	if len(seg.Power) != 5 {
		t.Fatalf("len(Power) = %d, want 5", len(seg.Power))
	}
	if seg.Power[0] != -65.5 || seg.Power[4] != -63.9 {
		t.Errorf("Power = %v", seg.Power)
	}

	if got, want := seg.BinFreq(0), 2400500000.0; got != want {
		t.Errorf("BinFreq(0) = %f, want %f", got, want)
	}
	if ts := seg.Timestamp; ts.Year() != 2026 || ts.Nanosecond() != 123456000 {
		t.Errorf("Timestamp = %v", ts)
	}
}

func TestParseLineSkipsBlank(t *testing.T) {
	p := NewParser()
	seg, err := p.ParseLine("   ")
	if seg != nil || err != nil {
		t.Errorf("blank line: seg=%v err=%v, want nil, nil", seg, err)
	}
}

func TestParseLineMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "2026-03-14, 09:15:30.123456, 2400000000"},
		{"bad timestamp", "not-a-date, 09:15:30.123456, 2400000000, 2405000000, 1000000, 8192, -65.5"},
		{"bad frequency", "2026-03-14, 09:15:30.123456, abc, 2405000000, 1000000, 8192, -65.5"},
		{"bad power", "2026-03-14, 09:15:30.123456, 2400000000, 2405000000, 1000000, 8192, low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser()
			_, err := p.ParseLine(tt.line)
			if !errors.Is(err, ErrMalformedLine) {
				t.Errorf("ParseLine() error = %v, want ErrMalformedLine", err)
			}
			if p.Malformed() != 1 {
				t.Errorf("Malformed() = %d, want 1", p.Malformed())
			}
		})
	}
}

func TestParseLineConsecutiveErrorThreshold(t *testing.T) {
	p := NewParser(WithParseErrorsThreshold(3))

	for i := 0; i < 2; i++ {
		if _, err := p.ParseLine("garbage"); errors.Is(err, ErrTooManyParseErrors) {
			t.Fatalf("threshold hit after %d errors, want 3", i+1)
		}
	}
	if _, err := p.ParseLine("garbage"); !errors.Is(err, ErrTooManyParseErrors) {
		t.Fatalf("error = %v, want ErrTooManyParseErrors on the third failure", err)
	}
}

func TestParseLineGoodLineResetsStreak(t *testing.T) {
	p := NewParser(WithParseErrorsThreshold(3))

	p.ParseLine("garbage")
	p.ParseLine("garbage")
	if _, err := p.ParseLine(goodLine); err != nil {
		t.Fatalf("ParseLine() error = %v", err)
	}
	p.ParseLine("garbage")
	if _, err := p.ParseLine("garbage"); errors.Is(err, ErrTooManyParseErrors) {
		t.Fatal("streak not reset by a good line")
	}

	if p.Malformed() != 4 {
		t.Errorf("Malformed() = %d, want 4", p.Malformed())
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{FrequencyStart: 2400, FrequencyEnd: 2500, BinWidth: 1000000, LNAGain: 16, VGAGain: 20}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted range", func(c *Config) { c.FrequencyEnd = c.FrequencyStart }},
		{"zero bin width", func(c *Config) { c.BinWidth = 0 }},
		{"lna off step", func(c *Config) { c.LNAGain = 10 }},
		{"vga too high", func(c *Config) { c.VGAGain = 70 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}
