package web

// limiter.go bounds how many upload bodies are written to disk at once.
//
// Requests take a slot before reading the multipart body. When every slot is
// busy a request waits up to maxWait and then fails with ErrTooManyUploads.
// Parsing and enrichment are not covered: they run on the worker.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyUploads is returned when no upload slot frees up in time.
var ErrTooManyUploads = errors.New("too many concurrent uploads")

const (
	defaultMaxConcurrentUploads = 5
	defaultMaxUploadWait        = 30 * time.Second
)

// uploadSlots is a counting semaphore over upload writes.
type uploadSlots struct {
	sem     chan struct{}
	maxWait time.Duration
	active  atomic.Int32
}

func newUploadSlots(maxConcurrent int, maxWait time.Duration) *uploadSlots {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = defaultMaxUploadWait
	}
	return &uploadSlots{
		sem:     make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot. The caller must Release it.
func (l *uploadSlots) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		l.active.Add(1)
		return nil
	default:
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-timer.C:
		return ErrTooManyUploads
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (l *uploadSlots) Release() {
	l.active.Add(-1)
	<-l.sem
}

// uploadSlotStatus is reported by /healthz.
type uploadSlotStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

func (l *uploadSlots) Status() uploadSlotStatus {
	return uploadSlotStatus{
		Active:        int(l.active.Load()),
		Available:     cap(l.sem) - len(l.sem),
		MaxConcurrent: cap(l.sem),
	}
}
