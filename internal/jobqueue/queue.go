// Package jobqueue is the bounded in-memory queue between upload producers
// and the single ingestion worker.
//
// Enqueue blocks while the buffer is full; nothing is dropped while the queue
// is open. Jobs live only in memory: whatever is still buffered when the
// process exits is lost, and Len reports how many that is at shutdown.
package jobqueue

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("job queue closed")

// Command asks the worker to process one upload.
type Command struct {
	UploadID int64
	FilePath string
}

// Queue is a bounded multi-producer, single-consumer queue of Commands.
type Queue struct {
	ch chan Command

	// closing is closed first so blocked producers give up.
	closing chan struct{}
	// sealed is closed once no producer can send any more.
	sealed chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// New creates a queue holding at most capacity pending commands.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:      make(chan Command, capacity),
		closing: make(chan struct{}),
		sealed:  make(chan struct{}),
	}
}

// Enqueue adds cmd, blocking while the queue is full. It returns ctx.Err()
// if the producer gives up first and ErrClosed if the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, cmd Command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- cmd:
		return nil
	case <-q.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue yields commands to the single consumer until ctx ends or the queue
// is closed. After Close, commands accepted before it are still yielded.
// Cancellation ends the sequence immediately and leaves buffered commands in
// place.
func (q *Queue) Dequeue(ctx context.Context) iter.Seq[Command] {
	return func(yield func(Command) bool) {
		for {
			// Prefer cancellation over buffered work.
			if ctx.Err() != nil {
				return
			}

			select {
			case cmd := <-q.ch:
				if !yield(cmd) {
					return
				}
			case <-q.sealed:
				q.drain(ctx, yield)
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (q *Queue) drain(ctx context.Context, yield func(Command) bool) {
	for ctx.Err() == nil {
		select {
		case cmd := <-q.ch:
			if !yield(cmd) {
				return
			}
		default:
			return
		}
	}
}

// Close stops accepting commands. Producers blocked in Enqueue return
// ErrClosed. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.closing)

		// Wait for in-flight Enqueue calls to leave.
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.sealed)
	})
}

// Len returns the number of buffered commands.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
