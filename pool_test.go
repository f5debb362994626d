package wagonocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resource struct {
	id     int
	closed bool
}

func TestPool(t *testing.T) {

	var made []*resource

	p, err := NewPool(2, func(i int) (*resource, error) {
		r := &resource{id: i}
		made = append(made, r)
		return r, nil
	}, func(r *resource) error {
		r.closed = true
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())

	a, err := p.Get(context.Background())
	require.NoError(t, err)
	b, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.id, b.id)

	// empty pool waits until the context expires
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Return(a)
	p.Close()

	assert.True(t, a.closed)
	assert.False(t, b.closed)

	// returned after close is released straight away
	p.Return(b)
	assert.True(t, b.closed)

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	p.Close()
}

func TestPoolCreateError(t *testing.T) {

	released := 0

	_, err := NewPool(3, func(i int) (int, error) {
		if i == 2 {
			return 0, errors.New("no more")
		}
		return i, nil
	}, func(int) error {
		released++
		return nil
	})

	assert.Error(t, err)
	assert.Equal(t, 2, released)
}
