package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCapacityOne(t *testing.T) {
	p, err := newPool("snowtsv-fake", "fake-dsn", 1, time.Hour)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 1, p.Capacity())

	s, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, s)

	// A second acquire must block until the first is released: bound it
	// with a short timeout and expect ErrTimeout.
	_, err = p.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	p.Release(s)

	s2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.NotNil(t, s2)
	p.Release(s2)
}

func TestPoolNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	p, err := newPool("snowtsv-fake", "fake-dsn", capacity, time.Hour)
	require.NoError(t, err)
	defer p.Close()

	leased := make([]*Session, 0, capacity)
	for i := 0; i < capacity; i++ {
		s, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		leased = append(leased, s)
	}

	// Pool is fully leased; one more acquire must time out.
	_, err = p.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	for _, s := range leased {
		p.Release(s)
	}
}

func TestPoolAcquireAfterCloseReturnsErrClosed(t *testing.T) {
	p, err := newPool("snowtsv-fake", "fake-dsn", 1, time.Hour)
	require.NoError(t, err)

	s, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	p.Release(s)

	require.NoError(t, p.Close())

	_, err = p.Acquire(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPoolAcquireRespectsContextCancellation(t *testing.T) {
	p, err := newPool("snowtsv-fake", "fake-dsn", 1, time.Hour)
	require.NoError(t, err)
	defer p.Close()

	s, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer p.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Acquire(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionMarkUnhealthyIsReplacedOnAcquire(t *testing.T) {
	p, err := newPool("snowtsv-fake", "fake-dsn", 1, time.Hour)
	require.NoError(t, err)
	defer p.Close()

	s, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	s.MarkUnhealthy()
	p.Release(s)

	s2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, s2.Healthy())
	p.Release(s2)
}
