package web

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadSlots_AcquireRelease(t *testing.T) {
	slots := newUploadSlots(2, time.Second)

	require.NoError(t, slots.Acquire(t.Context()))
	require.NoError(t, slots.Acquire(t.Context()))
	assert.Equal(t, uploadSlotStatus{Active: 2, Available: 0, MaxConcurrent: 2}, slots.Status())

	slots.Release()
	assert.Equal(t, uploadSlotStatus{Active: 1, Available: 1, MaxConcurrent: 2}, slots.Status())
	slots.Release()
	assert.Equal(t, 0, slots.Status().Active)
}

func TestUploadSlots_TimesOutWhenFull(t *testing.T) {
	slots := newUploadSlots(1, 30*time.Millisecond)
	require.NoError(t, slots.Acquire(t.Context()))
	defer slots.Release()

	start := time.Now()
	err := slots.Acquire(t.Context())
	assert.ErrorIs(t, err, ErrTooManyUploads)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestUploadSlots_ContextCancelled(t *testing.T) {
	slots := newUploadSlots(1, time.Minute)
	require.NoError(t, slots.Acquire(t.Context()))
	defer slots.Release()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, slots.Acquire(ctx), context.DeadlineExceeded)
}

func TestUploadSlots_UnblocksWaiter(t *testing.T) {
	slots := newUploadSlots(1, time.Second)
	require.NoError(t, slots.Acquire(t.Context()))

	acquired := make(chan error, 1)
	go func() {
		acquired <- slots.Acquire(t.Context())
	}()

	time.Sleep(20 * time.Millisecond)
	slots.Release()

	select {
	case err := <-acquired:
		require.NoError(t, err)
		slots.Release()
	case <-time.After(500 * time.Millisecond):
		t.Fatal("waiter did not acquire after release")
	}
}

func TestUploadSlots_Defaults(t *testing.T) {
	slots := newUploadSlots(0, 0)
	assert.Equal(t, defaultMaxConcurrentUploads, slots.Status().MaxConcurrent)
	assert.Equal(t, defaultMaxUploadWait, slots.maxWait)
}
