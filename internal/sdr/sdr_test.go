package sdr

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Driver:     DriverHackRF,
		CenterFreq: 100e6,
		SampleRate: 2e6,
		LNAGain:    24,
		VGAGain:    20,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid hackrf", func(c *Config) {}, false},
		{"valid rtl-sdr", func(c *Config) { c.Driver = DriverRTLSDR; c.TunerGain = 496 }, false},
		{"unknown driver", func(c *Config) { c.Driver = "airspy" }, true},
		{"zero center freq", func(c *Config) { c.CenterFreq = 0 }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }, true},
		{"lna gain too high", func(c *Config) { c.LNAGain = 48 }, true},
		{"lna gain off step", func(c *Config) { c.LNAGain = 10 }, true},
		{"vga gain too high", func(c *Config) { c.VGAGain = 64 }, true},
		{"vga gain off step", func(c *Config) { c.VGAGain = 21 }, true},
		{"negative block size", func(c *Config) { c.BlockSize = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDeviceKey(t *testing.T) {
	c := Config{Driver: DriverHackRF}
	if got := c.DeviceKey(); got != "hackrf" {
		t.Errorf("DeviceKey() = %q, want %q", got, "hackrf")
	}
	c.Serial = "0000000000000001"
	if got := c.DeviceKey(); got != "hackrf:0000000000000001" {
		t.Errorf("DeviceKey() = %q, want %q", got, "hackrf:0000000000000001")
	}
}

func TestRegistryExclusivity(t *testing.T) {
	r := NewRegistry()

	if err := r.Claim("hackrf"); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if err := r.Claim("hackrf"); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second Claim() error = %v, want ErrDeviceBusy", err)
	}
	if err := r.Claim("rtl-sdr:1"); err != nil {
		t.Fatalf("Claim() on a different key error = %v", err)
	}

	r.Release("hackrf")
	if err := r.Claim("hackrf"); err != nil {
		t.Fatalf("Claim() after Release() error = %v", err)
	}
}

func TestHackRFConvert(t *testing.T) {
	raw := []byte{0x7f, 0x81, 0x00, 0x40} // 127, -127, 0, 64
	out := make([]complex64, 2)
	hackrfStreamer{}.Convert(raw, out)

	want := []complex64{
		complex(float32(127)/128, float32(-127)/128),
		complex(0, float32(64)/128),
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestRTLConvert(t *testing.T) {
	raw := []byte{255, 0, 128, 127}
	out := make([]complex64, 2)
	rtlStreamer{}.Convert(raw, out)

	// Unsigned bytes center on 127.5, so full scale is asymmetric by
	// half an LSB on each side.
	checks := []struct {
		got, want float32
	}{
		{real(out[0]), 1},
		{imag(out[0]), -1},
		{real(out[1]), 0.5 / 127.5},
		{imag(out[1]), -0.5 / 127.5},
	}
	for i, c := range checks {
		if math.Abs(float64(c.got-c.want)) > 1e-6 {
			t.Errorf("component %d = %v, want %v", i, c.got, c.want)
		}
	}
}

func TestHackRFDeconvertClamps(t *testing.T) {
	in := []complex64{complex(2, -2), complex(0.5, 0)}
	raw := make([]byte, 4)
	hackrfStreamer{}.Deconvert(in, raw)

	if int8(raw[0]) != 127 || int8(raw[1]) != -127 {
		t.Errorf("clamped sample = (%d, %d), want (127, -127)", int8(raw[0]), int8(raw[1]))
	}
	if int8(raw[2]) != 63 {
		t.Errorf("scaled sample = %d, want 63", int8(raw[2]))
	}
}

func TestSampleBlockDuration(t *testing.T) {
	b := &SampleBlock{SampleRate: 2e6, Samples: make([]complex64, 16384)}
	want := time.Duration(float64(16384) / 2e6 * float64(time.Second))
	if got := b.Duration(); got != want {
		t.Errorf("Duration() = %v, want %v", got, want)
	}

	b.SampleRate = 0
	if got := b.Duration(); got != 0 {
		t.Errorf("Duration() with zero rate = %v, want 0", got)
	}
}

func TestOpenCaptureClaimsDevice(t *testing.T) {
	r := NewRegistry()
	cfg := Config{Driver: DriverHackRF, CenterFreq: 100e6, SampleRate: 2e6}

	c1, err := OpenCapture(r, cfg)
	if err != nil {
		t.Fatalf("OpenCapture() error = %v", err)
	}
	defer c1.Close()

	if _, err := OpenCapture(r, cfg); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second OpenCapture() error = %v, want ErrDeviceBusy", err)
	}

	if err := c1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c2, err := OpenCapture(r, cfg)
	if err != nil {
		t.Fatalf("OpenCapture() after Close() error = %v", err)
	}
	c2.Close()
}

// exitingStreamer runs a subprocess that dies immediately, driving the
// capture through its restart path.
type exitingStreamer struct{}

func (exitingStreamer) RecvCmd(ctx context.Context, cfg Config) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "false"), nil
}
func (exitingStreamer) Convert(raw []byte, out []complex64) {}
func (exitingStreamer) BytesPerSample() int                 { return 2 }
func (exitingStreamer) Device() string                      { return "exiting" }

func TestCaptureCountsRestarts(t *testing.T) {
	r := NewRegistry()
	cfg := Config{Driver: DriverHackRF, CenterFreq: 100e6, SampleRate: 2e6}

	c, err := OpenCapture(r, cfg, WithMaxRestarts(1))
	if err != nil {
		t.Fatalf("OpenCapture() error = %v", err)
	}
	defer c.Close()
	c.streamer = exitingStreamer{}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		_, err := c.ReadBlock(100 * time.Millisecond)
		if errors.Is(err, ErrDeviceLost) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("capture never reported ErrDeviceLost")
		}
	}

	if got := c.Restarts(); got != 1 {
		t.Errorf("Restarts() = %d, want 1", got)
	}
	if got := c.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}
