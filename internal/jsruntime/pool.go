package jsruntime

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// Pool manages a fixed number of reusable JavaScript runtime slots for
// concurrent validator execution.
type Pool struct {
	size      int
	available chan *goja.Runtime
	mu        sync.Mutex
	closed    bool
}

// NewPool creates a runtime pool with the specified size.
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	pool := &Pool{
		size:      size,
		available: make(chan *goja.Runtime, size),
	}
	for i := 0; i < size; i++ {
		pool.available <- goja.New()
	}
	return pool, nil
}

// Acquire obtains a runtime from the pool, blocking until one is available
// or the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*goja.Runtime, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.Unlock()

	select {
	case vm := <-p.available:
		// A nil runtime means the channel was closed under us.
		if vm == nil {
			return nil, fmt.Errorf("pool is closed")
		}
		return vm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a slot to the pool. The runtime is replaced with a fresh
// instance so globals and pending interrupts never leak into the next
// execution.
func (p *Pool) Release(_ *goja.Runtime) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("pool is closed")
	}

	select {
	case p.available <- goja.New():
		return nil
	default:
		return fmt.Errorf("pool is full (possible double-release)")
	}
}

// Size returns the configured pool size
func (p *Pool) Size() int {
	return p.size
}

// Available returns the number of available runtimes in the pool
func (p *Pool) Available() int {
	return len(p.available)
}

// Close closes the pool. Runtimes still checked out are discarded when
// released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("pool already closed")
	}
	p.closed = true
	close(p.available)
	for range p.available {
		// Drain; runtimes are garbage collected.
	}
	return nil
}
