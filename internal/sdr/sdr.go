package sdr

import (
	"errors"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when no matching device (or its
	// runtime tool) can be found on the host.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrDeviceBusy is returned when a capture session is already open
	// on the requested physical device.
	ErrDeviceBusy = errors.New("device busy")

	// ErrDeviceLost is returned when the device stops producing samples
	// and could not be recovered within the retry budget.
	ErrDeviceLost = errors.New("device lost")

	// ErrTimeout is returned when a read did not complete in time.
	// The operation may be retried by the caller.
	ErrTimeout = errors.New("read timeout")

	// ErrShutdownTimeout is returned when a worker did not acknowledge
	// a stop request within its deadline.
	ErrShutdownTimeout = errors.New("shutdown timeout")
)

// SampleBlock is a fixed-size run of complex IQ samples read from a
// capture source. Blocks are immutable once produced: ownership moves
// to the consumer and the buffer is never written again.
type SampleBlock struct {
	Timestamp  time.Time   // acquisition time of the first sample
	SampleRate float64     // Hz
	CenterFreq float64     // Hz
	Samples    []complex64 // interleaved I/Q converted to complex
}

// Duration returns the wall-clock span the block covers.
func (b *SampleBlock) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / b.SampleRate * float64(time.Second))
}

// Source produces SampleBlocks at a fixed rate. Implementations own
// the underlying hardware or file handle for their lifetime.
type Source interface {
	Start() error
	ReadBlock(timeout time.Duration) (*SampleBlock, error)
	Retune(centerFreq float64) error
	Stop(timeout time.Duration) error
	Close() error
}
