package detect

import (
	"testing"
	"time"

	"github.com/rfwatch/rfwatch/internal/spectrum"
)

const (
	testBins  = 128
	testFloor = -100.0
)

// testFrame builds a flat-noise frame with the given bins raised to
// the given powers.
func testFrame(ts time.Time, signal map[int]float64) *spectrum.Frame {
	power := make([]float64, testBins)
	for i := range power {
		power[i] = testFloor
	}
	for bin, p := range signal {
		power[bin] = p
	}
	return &spectrum.Frame{
		Timestamp:  ts,
		CenterFreq: 100e6,
		SampleRate: 128e3,
		BinWidth:   1e3,
		Power:      power,
		NoiseFloor: testFloor,
	}
}

func burst(bins []int, power float64) map[int]float64 {
	m := make(map[int]float64, len(bins))
	for _, b := range bins {
		m[b] = power
	}
	return m
}

func TestDetectorOpensAfterDebounce(t *testing.T) {
	d, err := New(Config{OpenAfterFrames: 3, CloseAfterFrames: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var opened []Event
	d.OnOpen(func(ev Event) { opened = append(opened, ev) })

	now := time.Now()
	sig := burst([]int{60, 61, 62, 63}, -80)

	for i := 0; i < 2; i++ {
		d.Process(testFrame(now.Add(time.Duration(i)*time.Second), sig))
		if len(opened) != 0 {
			t.Fatalf("frame %d: event opened before debounce", i)
		}
	}

	d.Process(testFrame(now.Add(2*time.Second), sig))
	if len(opened) != 1 {
		t.Fatalf("got %d opened events after 3 hits, want 1", len(opened))
	}

	ev := opened[0]
	if ev.State != StateOpen {
		t.Errorf("State = %v, want open", ev.State)
	}
	if ev.HitFrames != 3 {
		t.Errorf("HitFrames = %d, want 3", ev.HitFrames)
	}
	if ev.FreqLow >= ev.FreqHigh {
		t.Errorf("degenerate frequency range [%f, %f]", ev.FreqLow, ev.FreqHigh)
	}
}

func TestDetectorFlickerNeverOpens(t *testing.T) {
	d, err := New(Config{OpenAfterFrames: 3, CloseAfterFrames: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var opened int
	d.OnOpen(func(Event) { opened++ })

	now := time.Now()
	sig := burst([]int{60, 61, 62}, -80)

	// Two frames on, one off, repeated: never three consecutive hits.
	for i := 0; i < 12; i++ {
		var f *spectrum.Frame
		if i%3 == 2 {
			f = testFrame(now, nil)
		} else {
			f = testFrame(now, sig)
		}
		d.Process(f)
	}

	if opened != 0 {
		t.Errorf("flickering signal opened %d events, want 0", opened)
	}
}

func TestDetectorClosesAfterMisses(t *testing.T) {
	const closeAfter = 4
	d, err := New(Config{OpenAfterFrames: 2, CloseAfterFrames: closeAfter})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var closed []Event
	d.OnClose(func(ev Event) { closed = append(closed, ev) })

	now := time.Now()
	sig := burst([]int{40, 41, 42}, -75)
	d.Process(testFrame(now, sig))
	d.Process(testFrame(now.Add(time.Second), sig))

	for i := 0; i < closeAfter-1; i++ {
		d.Process(testFrame(now, nil))
		if len(closed) != 0 {
			t.Fatalf("miss %d: event closed early", i+1)
		}
	}

	d.Process(testFrame(now, nil))
	if len(closed) != 1 {
		t.Fatalf("got %d closed events after %d misses, want 1", len(closed), closeAfter)
	}
	if closed[0].State != StateClosed {
		t.Errorf("State = %v, want closed", closed[0].State)
	}
	if closed[0].DutyCycle <= 0 || closed[0].DutyCycle > 1 {
		t.Errorf("DutyCycle = %f, want in (0, 1]", closed[0].DutyCycle)
	}
}

func TestDetectorHysteresisSustain(t *testing.T) {
	d, err := New(Config{OpenAfterFrames: 2, CloseAfterFrames: 2, OpenMarginDB: 12, CloseMarginDB: 6})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var closed int
	d.OnClose(func(Event) { closed++ })

	now := time.Now()
	strong := burst([]int{80, 81, 82}, testFloor+20)
	weak := burst([]int{80, 81, 82}, testFloor+8) // between close and open margins

	d.Process(testFrame(now, strong))
	d.Process(testFrame(now, strong))

	// Power sags below the open margin but stays above the close
	// margin: the event must stay open.
	for i := 0; i < 10; i++ {
		d.Process(testFrame(now, weak))
	}
	if closed != 0 {
		t.Errorf("event closed while above the sustain threshold")
	}

	// A fresh signal at the weak level must not open.
	var opened int
	d.OnOpen(func(Event) { opened++ })
	weak2 := burst([]int{10, 11, 12}, testFloor+8)
	for i := 0; i < 5; i++ {
		d.Process(testFrame(now, mergeSignals(weak, weak2)))
	}
	if opened != 0 {
		t.Errorf("sub-threshold signal opened %d events, want 0", opened)
	}
}

func mergeSignals(a, b map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func TestDetectorRangeOnlyWidens(t *testing.T) {
	d, err := New(Config{OpenAfterFrames: 1, CloseAfterFrames: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var last Event
	d.OnOpen(func(ev Event) { last = ev })
	d.OnUpdate(func(ev Event) { last = ev })

	now := time.Now()
	d.Process(testFrame(now, burst([]int{60, 61, 62}, -80)))
	wide := last

	d.Process(testFrame(now, burst([]int{58, 59, 60, 61, 62, 63, 64}, -80)))
	if last.FreqLow >= wide.FreqLow || last.FreqHigh <= wide.FreqHigh {
		t.Fatalf("range did not widen: [%f, %f] -> [%f, %f]",
			wide.FreqLow, wide.FreqHigh, last.FreqLow, last.FreqHigh)
	}
	widest := last

	// Narrower signal on the same carrier: the range must hold.
	d.Process(testFrame(now, burst([]int{60, 61}, -80)))
	if last.FreqLow != widest.FreqLow || last.FreqHigh != widest.FreqHigh {
		t.Errorf("range shrank: [%f, %f] -> [%f, %f]",
			widest.FreqLow, widest.FreqHigh, last.FreqLow, last.FreqHigh)
	}
}

func TestDetectorMergesGappedRegions(t *testing.T) {
	d, err := New(Config{OpenAfterFrames: 1, CloseAfterFrames: 2, MergeGapBins: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var opened []Event
	d.OnOpen(func(ev Event) { opened = append(opened, ev) })

	// Two runs separated by a 2-bin notch: one event.
	sig := mergeSignals(burst([]int{50, 51, 52}, -80), burst([]int{55, 56, 57}, -80))
	d.Process(testFrame(time.Now(), sig))

	if len(opened) != 1 {
		t.Fatalf("got %d events from a notched signal, want 1", len(opened))
	}
}

func TestDetectorFlush(t *testing.T) {
	d, err := New(Config{OpenAfterFrames: 1, CloseAfterFrames: 10})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var closed []Event
	d.OnClose(func(ev Event) { closed = append(closed, ev) })

	d.Process(testFrame(time.Now(), burst([]int{30, 31, 32}, -80)))
	if got := d.Flush(); len(got) != 1 {
		t.Fatalf("Flush() returned %d events, want 1", len(got))
	}
	if len(closed) != 1 || closed[0].State != StateClosed {
		t.Fatalf("Flush() did not emit a closed event")
	}

	// Flushing twice is harmless.
	if got := d.Flush(); len(got) != 0 {
		t.Errorf("second Flush() returned %d events, want 0", len(got))
	}
}
