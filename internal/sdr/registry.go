package sdr

import (
	"fmt"
	"sync"
)

// Registry enforces single ownership of physical devices: at most one
// capture session may hold a device at a time. The registry is created
// by the application and passed to whoever opens devices; there is no
// package-level instance.
type Registry struct {
	mu   sync.Mutex
	open map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{open: make(map[string]struct{})}
}

// Claim reserves the device identified by key. A second claim on the
// same key fails with ErrDeviceBusy until Release is called.
func (r *Registry) Claim(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.open[key]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceBusy, key)
	}
	r.open[key] = struct{}{}
	return nil
}

// Release frees a previously claimed device. Releasing an unclaimed
// key is a no-op.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, key)
}
