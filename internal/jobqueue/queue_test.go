package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(ctx context.Context, q *Queue, n int) []Command {
	var got []Command
	for cmd := range q.Dequeue(ctx) {
		got = append(got, cmd)
		if len(got) == n {
			break
		}
	}
	return got
}

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-5).Cap())
	assert.Equal(t, 3, New(3).Cap())
}

func TestQueue_FIFO(t *testing.T) {
	q := New(10)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(t.Context(), Command{UploadID: int64(i)}))
	}
	assert.Equal(t, 3, q.Len())

	got := collect(t.Context(), q, 3)
	require.Len(t, got, 3)
	for i, cmd := range got {
		assert.Equal(t, int64(i+1), cmd.UploadID)
	}
	assert.Zero(t, q.Len())
}

func TestQueue_Backpressure(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(t.Context(), Command{UploadID: 1}))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), Command{UploadID: 2})
	}()

	select {
	case err := <-done:
		t.Fatalf("enqueue beyond capacity returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	got := collect(t.Context(), q, 1)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].UploadID)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released after a dequeue")
	}

	got = collect(t.Context(), q, 1)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].UploadID, "blocked item must not be dropped")
}

func TestQueue_EnqueueHonorsContext(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(t.Context(), Command{UploadID: 1}))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, Command{UploadID: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_CloseDrainsAndEnds(t *testing.T) {
	q := New(5)
	require.NoError(t, q.Enqueue(t.Context(), Command{UploadID: 1}))
	require.NoError(t, q.Enqueue(t.Context(), Command{UploadID: 2}))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(t.Context(), Command{UploadID: 3}), ErrClosed)

	var got []int64
	for cmd := range q.Dequeue(t.Context()) {
		got = append(got, cmd.UploadID)
	}
	assert.Equal(t, []int64{1, 2}, got)
}

func TestQueue_CloseReleasesBlockedProducer(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(t.Context(), Command{UploadID: 1}))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), Command{UploadID: 2})
	}()
	time.Sleep(20 * time.Millisecond)

	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not release the blocked producer")
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueue_DequeueEndsOnCancel(t *testing.T) {
	q := New(5)
	ctx, cancel := context.WithCancel(t.Context())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for range q.Dequeue(ctx) {
			t.Error("no command was enqueued")
		}
	}()

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not end after cancellation")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 50
	q := New(4)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				assert.NoError(t, q.Enqueue(t.Context(), Command{UploadID: int64(p*perProducer + i)}))
			}
		}()
	}

	seen := make(map[int64]bool)
	for _, cmd := range collect(t.Context(), q, producers*perProducer) {
		assert.False(t, seen[cmd.UploadID], "duplicate %d", cmd.UploadID)
		seen[cmd.UploadID] = true
	}
	wg.Wait()
	assert.Len(t, seen, producers*perProducer)
}
