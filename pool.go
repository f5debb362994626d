package wagonocr

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Get once the pool is closed
var ErrPoolClosed = errors.New("pool is closed")

// Pool hands out a fixed set of resources, one per worker, such as text
// readers that must not be shared between goroutines
type Pool[T any] struct {
	// pool of resources
	items chan T
	// size of pool
	size    int
	release func(T) error
	mu      sync.Mutex
	closed  bool
}

// NewPool creates size resources with create.  release is called on every
// resource when the pool closes and may be nil.
func NewPool[T any](size int, create func(i int) (T, error), release func(T) error) (*Pool[T], error) {

	if size < 1 {
		size = 1
	}

	p := &Pool[T]{
		items:   make(chan T, size),
		size:    size,
		release: release,
	}

	for i := 0; i < size; i++ {
		item, err := create(i)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			p.Close()
			return nil, err
		}

		// attach to pool
		p.Return(item)
	}

	return p, nil
}

// Size returns the number of resources in the pool
func (p *Pool[T]) Size() int {
	return p.size
}

// Get takes a resource from the pool, waiting until one is returned or ctx
// is done
func (p *Pool[T]) Get(ctx context.Context) (T, error) {

	var zero T

	select {
	case item, ok := <-p.items:
		if !ok {
			return zero, ErrPoolClosed
		}

		return item, nil

	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Return puts a resource back in the pool.  Resources returned after Close
// are released instead.
func (p *Pool[T]) Return(item T) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.releaseItem(item)
		return
	}

	select {
	case p.items <- item:
	default:
		// pool is full
		p.releaseItem(item)
	}
}

func (p *Pool[T]) releaseItem(item T) {
	if p.release != nil {
		_ = p.release(item)
	}
}

// Close the pool and release all resources in it
func (p *Pool[T]) Close() {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.items)

	for next := range p.items {
		p.releaseItem(next)
	}
}
