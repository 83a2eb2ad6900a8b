package dataobject

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ closed bool }

func (f *fakeSession) Close() error { f.closed = true; return nil }

func TestPoolReusesReleasedSessions(t *testing.T) {
	created := 0
	pool := NewPool(1, time.Minute, func(ctx context.Context) (closer, error) {
		created++
		return &fakeSession{}, nil
	})

	for i := 0; i < 3; i++ {
		err := pool.Use(context.Background(), func(s any) error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 1, created, "sessions should be reused from the idle pool, not recreated")
}

func TestPoolExhaustion(t *testing.T) {
	pool := NewPool(1, time.Minute, func(ctx context.Context) (closer, error) {
		return &fakeSession{}, nil
	})

	blocker := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = pool.Use(context.Background(), func(s any) error {
			<-blocker
			return nil
		})
		close(done)
	}()

	// Give the goroutine a chance to acquire the only slot.
	time.Sleep(10 * time.Millisecond)
	err := pool.Use(context.Background(), func(s any) error { return nil })
	assert.Error(t, err)

	close(blocker)
	<-done
}

func TestPoolReleasesOnPanic(t *testing.T) {
	pool := NewPool(1, time.Minute, func(ctx context.Context) (closer, error) {
		return &fakeSession{}, nil
	})

	func() {
		defer func() { _ = recover() }()
		_ = pool.Use(context.Background(), func(s any) error {
			panic("boom")
		})
	}()

	// The lease must have been released despite the panic.
	err := pool.Use(context.Background(), func(s any) error { return nil })
	assert.NoError(t, err)
}
