package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/catalog"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/enrich"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/jobqueue"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const pilotCSV = "episode_id,character_id,character_name,location_id\n1,1,Rick,3\n1,2,Morty,3\n"

// stepClock returns base, base+1s, base+2s, ...
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func newStepClock() *stepClock {
	return &stepClock{next: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveJob(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) Outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

// blockingEnricher waits for its context and reports when it started.
type blockingEnricher struct {
	started chan struct{}
}

func (b *blockingEnricher) EnrichUpload(ctx context.Context, _ int64, _ []core.Row) (enrich.Summary, error) {
	close(b.started)
	<-ctx.Done()
	return enrich.Summary{}, ctx.Err()
}

type fixture struct {
	store    *testsupport.MemStore
	catalog  *testsupport.FakeCatalog
	queue    *jobqueue.Queue
	observer *recordingObserver
	clock    *stepClock
}

func newFixture() *fixture {
	return &fixture{
		store:    testsupport.NewMemStore(),
		catalog:  testsupport.Pilot(),
		queue:    jobqueue.New(10),
		observer: &recordingObserver{},
		clock:    newStepClock(),
	}
}

func (f *fixture) worker(opts ...Option) *Worker {
	return f.workerWith(enrich.NewEngine(f.catalog, f.store), opts...)
}

func (f *fixture) workerWith(e Enricher, opts ...Option) *Worker {
	opts = append([]Option{WithClock(f.clock.Now), WithObserver(f.observer)}, opts...)
	return NewWorker(f.queue, f.store, e, opts...)
}

func (f *fixture) newUpload(t *testing.T, path string) core.Upload {
	t.Helper()
	u, err := f.store.CreateUpload(t.Context(), path, time.Now())
	require.NoError(t, err)
	return u
}

func (f *fixture) upload(t *testing.T, id int64) core.Upload {
	t.Helper()
	u, err := f.store.GetUpload(t.Context(), id)
	require.NoError(t, err)
	return u
}

func TestProcess_Completes(t *testing.T) {
	f := newFixture()
	path := testsupport.WriteCSV(t, pilotCSV)
	u := f.newUpload(t, path)

	err := f.worker().Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: path})
	require.NoError(t, err)

	got := f.upload(t, u.ID)
	assert.Equal(t, core.StatusCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.After(*got.StartedAt))
	assert.Equal(t, "1 episodes, 2 characters, 4 locations enriched", got.Message)

	assert.Len(t, f.store.Snapshot().Episodes, 1)
	assert.Equal(t, []string{OutcomeCompleted}, f.observer.Outcomes())
}

func TestProcess_UsesStoredPathWhenCommandHasNone(t *testing.T) {
	f := newFixture()
	u := f.newUpload(t, testsupport.WriteCSV(t, pilotCSV))

	require.NoError(t, f.worker().Process(t.Context(), jobqueue.Command{UploadID: u.ID}))
	assert.Equal(t, core.StatusCompleted, f.upload(t, u.ID).Status)
}

func TestProcess_NoEpisodesStillCompletes(t *testing.T) {
	f := newFixture()
	path := testsupport.WriteCSV(t, "episode_id,character_id,character_name,location_id\nx,y,z,w\n")
	u := f.newUpload(t, path)

	require.NoError(t, f.worker().Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: path}))

	got := f.upload(t, u.ID)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Equal(t, "no catalog episodes matched the upload", got.Message)
}

func TestProcess_MissingFileFailsWithoutParsing(t *testing.T) {
	f := newFixture()
	u := f.newUpload(t, "/nonexistent/upload.csv")

	parsed := false
	w := f.worker(WithParser(func(context.Context, string) ([]core.Row, error) {
		parsed = true
		return nil, nil
	}))

	require.NoError(t, w.Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: u.FilePath}))

	got := f.upload(t, u.ID)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Contains(t, got.Message, "Code: FILE003")
	assert.False(t, parsed, "parser must not run for a missing file")
	assert.Empty(t, f.catalog.Requested)
	assert.Equal(t, []string{OutcomeFailed}, f.observer.Outcomes())
}

func TestProcess_EnrichErrorFails(t *testing.T) {
	f := newFixture()
	f.catalog.Err[catalog.EndpointCharacter] = &catalog.StatusError{StatusCode: 502, Path: "character/1,2"}
	path := testsupport.WriteCSV(t, pilotCSV)
	u := f.newUpload(t, path)

	require.NoError(t, f.worker().Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: path}))

	got := f.upload(t, u.ID)
	assert.Equal(t, core.StatusFailed, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	// The clock's first tick is the start; failure must not restamp it.
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), *got.StartedAt)
	assert.Contains(t, got.Message, "Code: CAT001")
	assert.Empty(t, f.store.Snapshot().Episodes)
}

func TestProcess_MissingUploadIsDiscarded(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.worker().Process(t.Context(), jobqueue.Command{UploadID: 404, FilePath: "x.csv"}))
	assert.Equal(t, []string{OutcomeDiscarded}, f.observer.Outcomes())
	assert.Zero(t, f.store.Calls["SaveUpload"])
}

func TestProcess_TerminalUploadIsDiscarded(t *testing.T) {
	f := newFixture()
	path := testsupport.WriteCSV(t, pilotCSV)
	u := f.newUpload(t, path)
	require.NoError(t, f.worker().Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: path}))
	before := f.upload(t, u.ID)

	require.NoError(t, f.worker().Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: path}))

	assert.Equal(t, before, f.upload(t, u.ID))
	assert.Equal(t, []string{OutcomeCompleted, OutcomeDiscarded}, f.observer.Outcomes())
}

func TestProcess_ResumesInProgressUpload(t *testing.T) {
	f := newFixture()
	path := testsupport.WriteCSV(t, pilotCSV)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.store.PutUpload(core.Upload{ID: 5, FilePath: path, Status: core.StatusInProgress, StartedAt: &started})

	require.NoError(t, f.worker().Process(t.Context(), jobqueue.Command{UploadID: 5, FilePath: path}))

	got := f.upload(t, 5)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.NotEqual(t, started, *got.StartedAt, "resume restamps the start")
}

// failOnFailed rejects saving a Failed upload.
type failOnFailed struct {
	*testsupport.MemStore
}

func (s failOnFailed) SaveUpload(ctx context.Context, u core.Upload) error {
	if u.Status == core.StatusFailed {
		return errors.New("connection reset by peer")
	}
	return s.MemStore.SaveUpload(ctx, u)
}

func TestProcess_FailedBookkeepingErrorIsSwallowed(t *testing.T) {
	f := newFixture()
	u := f.newUpload(t, "/nonexistent/upload.csv")

	w := NewWorker(f.queue, failOnFailed{f.store}, enrich.NewEngine(f.catalog, f.store), WithClock(f.clock.Now))
	require.NoError(t, w.Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: u.FilePath}))

	assert.Equal(t, core.StatusInProgress, f.upload(t, u.ID).Status)
}

// failOnCompleted rejects saving a Completed upload.
type failOnCompleted struct {
	*testsupport.MemStore
}

func (s failOnCompleted) SaveUpload(ctx context.Context, u core.Upload) error {
	if u.Status == core.StatusCompleted {
		return errors.New("connection reset by peer")
	}
	return s.MemStore.SaveUpload(ctx, u)
}

func TestProcess_CompletionSaveErrorFailsUpload(t *testing.T) {
	f := newFixture()
	path := testsupport.WriteCSV(t, pilotCSV)
	u := f.newUpload(t, path)

	w := NewWorker(f.queue, failOnCompleted{f.store}, enrich.NewEngine(f.catalog, f.store),
		WithClock(f.clock.Now), WithObserver(f.observer))
	require.NoError(t, w.Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: path}))

	got := f.upload(t, u.ID)
	assert.Equal(t, core.StatusFailed, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Contains(t, got.Message, "DB005")
	assert.Equal(t, []string{OutcomeFailed}, f.observer.Outcomes())
}

func TestProcess_JobTimeoutFails(t *testing.T) {
	f := newFixture()
	path := testsupport.WriteCSV(t, pilotCSV)
	u := f.newUpload(t, path)

	enricher := &blockingEnricher{started: make(chan struct{})}
	w := f.workerWith(enricher, WithJobTimeout(20*time.Millisecond))

	require.NoError(t, w.Process(t.Context(), jobqueue.Command{UploadID: u.ID, FilePath: path}))

	got := f.upload(t, u.ID)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "Code: UPL004")
}

func TestRun_ContinuesAfterFailures(t *testing.T) {
	f := newFixture()
	good := testsupport.WriteCSV(t, pilotCSV)
	missing := f.newUpload(t, "/nonexistent/upload.csv")
	ok := f.newUpload(t, good)

	ctx := t.Context()
	require.NoError(t, f.queue.Enqueue(ctx, jobqueue.Command{UploadID: 999, FilePath: good}))
	require.NoError(t, f.queue.Enqueue(ctx, jobqueue.Command{UploadID: missing.ID, FilePath: missing.FilePath}))
	require.NoError(t, f.queue.Enqueue(ctx, jobqueue.Command{UploadID: ok.ID, FilePath: good}))
	f.queue.Close()

	require.NoError(t, f.worker().Run(ctx), "closed queue ends Run cleanly")

	assert.Equal(t, core.StatusFailed, f.upload(t, missing.ID).Status)
	assert.Equal(t, core.StatusCompleted, f.upload(t, ok.ID).Status)
	assert.Equal(t, []string{OutcomeDiscarded, OutcomeFailed, OutcomeCompleted}, f.observer.Outcomes())
}

func TestRun_CancellationLeavesUploadInProgress(t *testing.T) {
	f := newFixture()
	path := testsupport.WriteCSV(t, pilotCSV)
	u := f.newUpload(t, path)

	enricher := &blockingEnricher{started: make(chan struct{})}
	w := f.workerWith(enricher)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, f.queue.Enqueue(ctx, jobqueue.Command{UploadID: u.ID, FilePath: path}))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-enricher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	got := f.upload(t, u.ID)
	assert.Equal(t, core.StatusInProgress, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Message)
	assert.Equal(t, []string{OutcomeCancelled}, f.observer.Outcomes())
}
