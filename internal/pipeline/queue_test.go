package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue[int](2, DropOldest)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if err := q.Push(ctx, i); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	// Oldest two were discarded; 3 and 4 remain in order.
	for _, want := range []int{3, 4} {
		v, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() empty, want %d", want)
		}
		if v != want {
			t.Errorf("TryPop() = %d, want %d", v, want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned a value")
	}
}

func TestQueueBlockWaitsForSpace(t *testing.T) {
	q := NewQueue[int](1, Block)
	ctx := context.Background()

	if err := q.Push(ctx, 1); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, 2)
	}()

	select {
	case err := <-done:
		t.Fatalf("Push() on a full queue returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if v, err := q.Pop(ctx); err != nil || v != 1 {
		t.Fatalf("Pop() = %d, %v, want 1, nil", v, err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked Push() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Push() never completed")
	}

	if got := q.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestQueueBlockHonorsContext(t *testing.T) {
	q := NewQueue[int](1, Block)
	ctx := context.Background()

	if err := q.Push(ctx, 1); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.Push(cancelled, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("Push() error = %v, want context.Canceled", err)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[int](4, DropOldest)
	ctx := context.Background()

	q.Push(ctx, 1)
	q.Push(ctx, 2)
	q.Close()
	q.Close() // idempotent

	if err := q.Push(ctx, 3); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push() after Close() error = %v, want ErrQueueClosed", err)
	}

	// Items queued before Close remain readable.
	for _, want := range []int{1, 2} {
		v, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if v != want {
			t.Errorf("Pop() = %d, want %d", v, want)
		}
	}

	if _, err := q.Pop(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop() on drained closed queue error = %v, want ErrQueueClosed", err)
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := NewQueue[int](1, Block)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pop() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestQueueItemsSelectable(t *testing.T) {
	q := NewQueue[int](2, Block)
	ctx := context.Background()

	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	// An empty queue must not starve the ticker arm of a select.
	select {
	case <-q.Items():
		t.Fatal("Items() yielded from an empty queue")
	case <-tick.C:
	}

	if err := q.Push(ctx, 7); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	select {
	case v, ok := <-q.Items():
		if !ok || v != 7 {
			t.Errorf("Items() = %d, %t, want 7, true", v, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("Items() never yielded a pushed item")
	}

	q.Close()
	if _, ok := <-q.Items(); ok {
		t.Error("Items() still open after Close()")
	}
}
