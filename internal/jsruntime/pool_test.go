package jsruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolValidation(t *testing.T) {
	_, err := NewPool(0)
	require.Error(t, err)

	_, err = NewPool(-1)
	require.Error(t, err)
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, err := NewPool(2)
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, 2, pool.Available())

	vm, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, vm)
	assert.Equal(t, 1, pool.Available())

	require.NoError(t, pool.Release(vm))
	assert.Equal(t, 2, pool.Available())
}

func TestPoolExhaustionBlocksUntilDeadline(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	vm, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(vm)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolDoubleReleaseRejected(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	vm, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, pool.Release(vm))
	require.Error(t, pool.Release(vm))
}

func TestPoolClose(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.Error(t, pool.Close())

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)

	require.Error(t, pool.Release(nil))
}
