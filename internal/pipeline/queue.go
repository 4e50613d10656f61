// Package pipeline provides the bounded handoff queues that connect
// capture, analysis and decode stages. Each queue is single-producer,
// single-consumer with a fixed depth and an explicit overflow policy.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Pop once the queue is closed and
// drained, and by Push after Close.
var ErrQueueClosed = errors.New("queue closed")

// Policy selects what Push does when the queue is full.
type Policy int

const (
	// DropOldest discards the oldest queued item to make room. Used by
	// stages where fresh data supersedes stale data, such as spectrum
	// display and audio demodulation.
	DropOldest Policy = iota

	// Block makes Push wait for free space or context cancellation.
	// Used by stages where losing items corrupts the output, such as
	// protocol decoding.
	Block
)

// Queue is a bounded FIFO between one producer and one consumer.
type Queue[T any] struct {
	ch     chan T
	policy Policy

	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once

	// mu serializes Push against Close so the drop-oldest path never
	// sends on a closed channel.
	mu sync.Mutex
}

// NewQueue creates a queue holding up to depth items.
func NewQueue[T any](depth int, policy Policy) *Queue[T] {
	if depth < 1 {
		depth = 1
	}
	return &Queue[T]{ch: make(chan T, depth), policy: policy}
}

// Push enqueues v. Under DropOldest it never blocks; under Block it
// waits for space until ctx is done.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	if q.policy == Block {
		select {
		case q.ch <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}

	select {
	case q.ch <- v:
		return nil
	default:
	}
	select {
	case <-q.ch:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.ch <- v:
	default:
	}
	return nil
}

// Pop dequeues the next item, waiting until one arrives, the queue is
// closed and empty, or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Items exposes the receive side of the queue so consumers can select
// on it alongside tickers and cancellation. The channel closes once
// Close drains; receiving with the ok idiom distinguishes a closed
// queue from a zero item.
func (q *Queue[T]) Items() <-chan T { return q.ch }

// TryPop dequeues without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v, ok := <-q.ch:
		if !ok {
			var zero T
			return zero, false
		}
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Close marks the queue closed. Queued items remain readable; further
// pushes fail with ErrQueueClosed.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed.Store(true)
		close(q.ch)
		q.mu.Unlock()
	})
}

// Dropped reports how many items DropOldest discarded.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Len reports the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }
