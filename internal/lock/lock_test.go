package lock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_SerializesHolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".devcoord", FileName)
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := New(path).With(ctx, func() error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLock_ReleasedOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	l := New(path)
	boom := errors.New("boom")

	err := l.With(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)

	probe := flock.New(path)
	locked, err := probe.TryLock()
	require.NoError(t, err)
	assert.True(t, locked, "lock must be free after fn returns an error")
	require.NoError(t, probe.Unlock())
}

func TestLock_ReleasedOnPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	l := New(path)

	assert.Panics(t, func() {
		_ = l.With(context.Background(), func() error { panic("boom") })
	})

	probe := flock.New(path)
	locked, err := probe.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, probe.Unlock())
}

func TestLock_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New(filepath.Join(t.TempDir(), FileName)).With(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestNop(t *testing.T) {
	called := false
	require.NoError(t, Nop{}.With(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
