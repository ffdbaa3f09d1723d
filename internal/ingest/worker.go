// Package ingest runs the background worker that turns queued uploads into
// enriched data.
//
// A single Worker drains the job queue and drives each upload through
// Pending -> InProgress -> Completed | Failed. Failures are recorded on the
// upload and never stop the loop. Shutdown is different: a job interrupted by
// worker cancellation is left InProgress so it can be resumed or inspected.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/csvrows"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/enrich"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/jobqueue"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
)

// Job outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
	OutcomeCancelled = "cancelled"
)

// UploadStore loads and persists upload records.
type UploadStore interface {
	GetUpload(ctx context.Context, id int64) (core.Upload, error)
	SaveUpload(ctx context.Context, u core.Upload) error
}

// Enricher enriches the rows of one upload.
type Enricher interface {
	EnrichUpload(ctx context.Context, uploadID int64, rows []core.Row) (enrich.Summary, error)
}

// ParseFunc reads the rows of an upload file.
type ParseFunc func(ctx context.Context, path string) ([]core.Row, error)

// Observer is told how every job ended.
type Observer interface {
	ObserveJob(outcome string, duration time.Duration)
}

// Worker is the single consumer of the job queue.
type Worker struct {
	queue    *jobqueue.Queue
	uploads  UploadStore
	enricher Enricher

	parse      ParseFunc
	jobTimeout time.Duration
	now        func() time.Time
	observer   Observer
}

// Option customizes a Worker.
type Option func(*Worker)

// WithJobTimeout bounds a single job. Zero means no limit. Running out of
// time fails the upload.
func WithJobTimeout(d time.Duration) Option {
	return func(w *Worker) { w.jobTimeout = d }
}

// WithClock replaces time.Now for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithParser replaces csvrows.ParseFile.
func WithParser(p ParseFunc) Option {
	return func(w *Worker) { w.parse = p }
}

// WithObserver attaches a job observer, typically the pipeline metrics.
func WithObserver(o Observer) Option {
	return func(w *Worker) { w.observer = o }
}

// NewWorker creates a worker consuming queue.
func NewWorker(queue *jobqueue.Queue, uploads UploadStore, enricher Enricher, opts ...Option) *Worker {
	w := &Worker{
		queue:    queue,
		uploads:  uploads,
		enricher: enricher,
		parse:    csvrows.ParseFile,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until ctx is cancelled or the queue is closed and
// drained. It returns ctx.Err() on cancellation and nil after a close.
func (w *Worker) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	logger.Info("ingestion worker started", "queue_capacity", w.queue.Cap())

	for cmd := range w.queue.Dequeue(ctx) {
		if err := w.Process(ctx, cmd); err != nil {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		logger.Info("ingestion worker stopped", "reason", err, "jobs_lost", w.queue.Len())
		return err
	}
	logger.Info("ingestion worker stopped", "reason", "queue closed")
	return nil
}

// Process runs one job to a terminal state. The only error it returns is
// ctx.Err() when the worker is cancelled mid-job; every other problem is
// recorded on the upload or logged.
func (w *Worker) Process(ctx context.Context, cmd jobqueue.Command) error {
	ctx = logging.WithUpload(ctx, cmd.UploadID)
	logger := logging.FromContext(ctx)
	start := time.Now()

	upload, err := w.uploads.GetUpload(ctx, cmd.UploadID)
	if err != nil {
		if ctx.Err() != nil {
			return w.cancelled(ctx, start)
		}
		if errors.Is(err, core.ErrUploadNotFound) {
			logger.Warn("upload not found, discarding job")
		} else {
			logger.Error("failed to load upload, discarding job", "error", err)
		}
		w.observe(OutcomeDiscarded, start)
		return nil
	}

	if upload.Status.IsTerminal() {
		logger.Warn("upload already finished, discarding job", "status", upload.Status)
		w.observe(OutcomeDiscarded, start)
		return nil
	}

	path := cmd.FilePath
	if path == "" {
		path = upload.FilePath
	}

	if err := upload.Start(w.now()); err != nil {
		logger.Error("cannot start upload, discarding job", "error", err)
		w.observe(OutcomeDiscarded, start)
		return nil
	}
	if err := w.uploads.SaveUpload(ctx, upload); err != nil {
		if ctx.Err() != nil {
			return w.cancelled(ctx, start)
		}
		w.fail(ctx, upload, fmt.Errorf("record start: %w", err), start)
		return nil
	}
	logger.Info("upload processing started", "file", path)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", core.ErrFileNotFound, path)
		}
		w.fail(ctx, upload, err, start)
		return nil
	}

	summary, err := w.run(ctx, upload.ID, path)
	if err != nil {
		if ctx.Err() != nil {
			return w.cancelled(ctx, start)
		}
		w.fail(ctx, upload, err, start)
		return nil
	}

	message := summary.String()
	if summary.Empty() {
		message = "no catalog episodes matched the upload"
	}
	running := upload
	if err := upload.Finish(core.StatusCompleted, w.now(), message); err != nil {
		w.fail(ctx, running, fmt.Errorf("record completion: %w", err), start)
		return nil
	}
	if err := w.uploads.SaveUpload(ctx, upload); err != nil {
		if ctx.Err() != nil {
			return w.cancelled(ctx, start)
		}
		w.fail(ctx, running, fmt.Errorf("record completion: %w", err), start)
		return nil
	}

	logger.Info("upload completed", "duration", time.Since(start), "summary", message)
	w.observe(OutcomeCompleted, start)
	return nil
}

// run parses and enriches under the per-job timeout.
func (w *Worker) run(ctx context.Context, uploadID int64, path string) (enrich.Summary, error) {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	rows, err := w.parse(ctx, path)
	if err != nil {
		return enrich.Summary{}, fmt.Errorf("parse upload: %w", err)
	}
	return w.enricher.EnrichUpload(ctx, uploadID, rows)
}

// fail records the upload as Failed. A failure to persist that is logged
// and otherwise ignored.
func (w *Worker) fail(ctx context.Context, upload core.Upload, cause error, start time.Time) {
	logger := logging.FromContext(ctx)
	logger.Error("upload failed", "error", cause, "duration", time.Since(start))
	w.observe(OutcomeFailed, start)

	if err := upload.Finish(core.StatusFailed, w.now(), core.FormatUserError(cause)); err != nil {
		logger.Error("cannot mark upload failed", "error", err)
		return
	}
	if err := w.uploads.SaveUpload(ctx, upload); err != nil {
		logger.Error("failed to record failed upload", "error", err)
	}
}

func (w *Worker) cancelled(ctx context.Context, start time.Time) error {
	logging.FromContext(ctx).Info("upload interrupted by shutdown, leaving it for resume")
	w.observe(OutcomeCancelled, start)
	return ctx.Err()
}

func (w *Worker) observe(outcome string, start time.Time) {
	if w.observer != nil {
		w.observer.ObserveJob(outcome, time.Since(start))
	}
}
