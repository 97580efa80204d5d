// Package download runs file transfers on a bounded worker pool and reports their
// progress as a stream of events.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/retry"
)

const (
	MaxConcurrency          = 10
	DefaultConcurrency      = 3
	DefaultChunkSize        = 64 * 1024
	DefaultPerTaskTimeout   = 30 * time.Minute
	DefaultMaxRetries       = 3
	DefaultProgressInterval = 250 * time.Millisecond
	DefaultEventBuffer      = 256

	hookTimeout = time.Minute
	dirPerm     = 0o755
)

// Source opens the byte stream of a remote file. size is -1 when unknown.
type Source interface {
	Open(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)
}

// CompletionHook is notified after a task's file has been fully written.
type CompletionHook interface {
	TaskCompleted(ctx context.Context, task entity.DownloadTask) error
}

type Config struct {
	MaxConcurrency   int
	ChunkSize        int
	PerTaskTimeout   time.Duration
	MaxRetries       int
	DestinationRoot  string
	ProgressInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   DefaultConcurrency,
		ChunkSize:        DefaultChunkSize,
		PerTaskTimeout:   DefaultPerTaskTimeout,
		MaxRetries:       DefaultMaxRetries,
		ProgressInterval: DefaultProgressInterval,
	}
}

func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 || c.MaxConcurrency > MaxConcurrency {
		return common.Validation("max concurrency must be between 1 and %d, got %d", MaxConcurrency, c.MaxConcurrency)
	}
	if c.ChunkSize <= 0 {
		return common.Validation("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.PerTaskTimeout <= 0 {
		return common.Validation("per task timeout must be positive, got %s", c.PerTaskTimeout)
	}
	if c.MaxRetries < 1 {
		return common.Validation("max retries must be at least 1, got %d", c.MaxRetries)
	}

	return nil
}

type task struct {
	entity.DownloadTask

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested bool
}

type Orchestrator struct {
	fs     afero.Fs
	source Source
	hooks  []CompletionHook

	mu       sync.Mutex
	cond     *sync.Cond
	cfg      Config
	tasks    map[string]*task
	order    []*task
	queue    []*task
	started  bool
	paused   bool
	stopped  bool
	finished int

	emitMu sync.Mutex
	events chan entity.Event

	wg         sync.WaitGroup
	rootCtx    context.Context
	rootCancel context.CancelFunc

	sleep retry.SleepFunc
	now   func() time.Time
	log   *slog.Logger
}

func NewOrchestrator(fs afero.Fs, source Source, log *slog.Logger, hooks ...CompletionHook) *Orchestrator {
	cfg := DefaultConfig()
	rootCtx, rootCancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		fs:         fs,
		source:     source,
		hooks:      hooks,
		cfg:        cfg,
		tasks:      make(map[string]*task),
		events:     make(chan entity.Event, DefaultEventBuffer),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		sleep:      retry.Sleep,
		now:        time.Now,
		log:        log.With(slog.String("item", "DownloadOrchestrator")),
	}
	o.cond = sync.NewCond(&o.mu)

	return o
}

// SetSleep overrides the backoff sleep between attempts (for testing).
func (o *Orchestrator) SetSleep(fn retry.SleepFunc) {
	o.sleep = fn
}

// SetNow overrides the time function (for testing).
func (o *Orchestrator) SetNow(fn func() time.Time) {
	o.now = fn
}

// Configure replaces the configuration. A zero ProgressInterval takes the default.
// It must be called before Start.
func (o *Orchestrator) Configure(cfg Config) error {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started || o.stopped {
		return common.Validation("cannot configure a started orchestrator")
	}

	o.cfg = cfg

	return nil
}

// Events returns the event stream. It is closed by Stop. The consumer must keep
// draining it, workers block while the buffer is full.
func (o *Orchestrator) Events() <-chan entity.Event {
	return o.events
}

// Enqueue adds a task. It may be called while the orchestrator is running.
func (o *Orchestrator) Enqueue(taskID, sourceURL, filename string, expectedSize int64) error {
	if taskID == "" {
		return common.Validation("task id is empty")
	}
	if sourceURL == "" {
		return common.Validation("task %s has no source url", taskID)
	}
	if !filepath.IsLocal(filename) {
		return common.Validation("task %s: filename %q must be a relative path inside the destination", taskID, filename)
	}
	if expectedSize < 0 {
		expectedSize = 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return common.Validation("orchestrator is stopped")
	}

	if _, ok := o.tasks[taskID]; ok {
		return common.Validation("task %s already enqueued", taskID)
	}

	t := &task{DownloadTask: entity.DownloadTask{
		TaskID:       taskID,
		SourceURL:    sourceURL,
		Filename:     filename,
		ExpectedSize: expectedSize,
		State:        entity.TaskStateQueued,
	}}
	o.tasks[taskID] = t
	o.order = append(o.order, t)
	o.queue = append(o.queue, t)
	o.cond.Signal()

	return nil
}

// Start spawns the workers. Queued tasks begin unless the orchestrator is paused.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return common.Validation("orchestrator is stopped")
	}
	if o.started {
		return common.Validation("orchestrator already started")
	}
	o.started = true

	o.wg.Add(o.cfg.MaxConcurrency)
	for n := 0; n < o.cfg.MaxConcurrency; n++ {
		go o.worker(n)
	}

	o.log.Info("Started", slog.Int("workers", o.cfg.MaxConcurrency), slog.Int("queued", len(o.queue)))

	return nil
}

// Pause stops queued tasks from starting. Transfers already in flight continue.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = true
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = false
	o.cond.Broadcast()
}

func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.paused
}

// Cancel cancels one task. A queued task is cancelled immediately, an in-flight
// one at its next chunk boundary. Cancelling a finished task is a no-op.
// Cancel never waits for the event stream, so the consumer may call it from the
// loop that drains Events.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()

	if o.stopped {
		o.mu.Unlock()

		return common.Validation("orchestrator is stopped")
	}

	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()

		return common.Validation("unknown task %s", taskID)
	}

	queued := o.requestCancel(t)
	if queued {
		o.wg.Add(1)
	}
	o.mu.Unlock()

	if queued {
		go func() {
			defer o.wg.Done()
			o.finish(t, entity.TaskStateCancelled, nil)
		}()
	}

	return nil
}

// CancelAll cancels every task that has not finished yet. Like Cancel it does not
// wait for the event stream.
func (o *Orchestrator) CancelAll() error {
	o.mu.Lock()

	if o.stopped {
		o.mu.Unlock()

		return common.Validation("orchestrator is stopped")
	}

	var queued []*task
	for _, t := range o.order {
		if o.requestCancel(t) {
			queued = append(queued, t)
		}
	}
	if len(queued) > 0 {
		o.wg.Add(1)
	}
	o.mu.Unlock()

	if len(queued) > 0 {
		go func() {
			defer o.wg.Done()
			for _, t := range queued {
				o.finish(t, entity.TaskStateCancelled, nil)
			}
		}()
	}

	return nil
}

// requestCancel marks t cancelled and reports whether it was still queued, in which
// case the caller emits its terminal event off the calling goroutine. Must be
// called with mu held.
func (o *Orchestrator) requestCancel(t *task) bool {
	if t.State.Terminal() || t.cancelRequested {
		return false
	}
	t.cancelRequested = true

	if t.State == entity.TaskStateInProgress {
		t.cancel()

		return false
	}

	o.removeQueued(t)

	return true
}

func (o *Orchestrator) removeQueued(t *task) {
	for i, q := range o.queue {
		if q == t {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)

			return
		}
	}
}

// Stop cancels queued tasks, waits for in-flight ones until ctx is done, aborts
// whatever is left and closes the event stream.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()

		return nil
	}
	o.stopped = true

	queued := o.queue
	o.queue = nil
	for _, t := range queued {
		t.cancelRequested = true
	}
	o.cond.Broadcast()
	o.mu.Unlock()

	for _, t := range queued {
		o.finish(t, entity.TaskStateCancelled, nil)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn("Stop deadline reached, aborting transfers")
		err = ctx.Err()
		o.rootCancel()
		<-done
	}
	o.rootCancel()

	o.emitMu.Lock()
	close(o.events)
	o.emitMu.Unlock()

	o.log.Info("Stopped")

	return err
}

// Snapshot returns a copy of every task in enqueue order.
func (o *Orchestrator) Snapshot() []entity.DownloadTask {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]entity.DownloadTask, 0, len(o.order))
	for _, t := range o.order {
		out = append(out, t.DownloadTask)
	}

	return out
}

func (o *Orchestrator) worker(n int) {
	defer o.wg.Done()

	log := o.log.With(slog.Int("worker_id", n))
	log.Debug("Worker started")

	for {
		t, ok := o.next()
		if !ok {
			log.Debug("Worker done")

			return
		}

		o.run(log, t)
	}
}

// next blocks until a task may start or the orchestrator stops.
func (o *Orchestrator) next() (*task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for {
		if o.stopped {
			return nil, false
		}

		if !o.paused && len(o.queue) > 0 {
			t := o.queue[0]
			o.queue = o.queue[1:]

			t.State = entity.TaskStateInProgress
			t.DestinationPath = filepath.Join(o.cfg.DestinationRoot, t.Filename)
			t.ctx, t.cancel = context.WithCancel(o.rootCtx)

			return t, true
		}

		o.cond.Wait()
	}
}

func (o *Orchestrator) run(log *slog.Logger, t *task) {
	defer t.cancel()

	log = log.With(slog.String("task_id", t.TaskID))
	o.emit(entity.Event{Kind: entity.EventTaskStarted, TaskID: t.TaskID})
	log.Debug("Task started", slog.String("destination", t.DestinationPath))

	policy := retry.Policy{
		MaxRetries: o.cfg.MaxRetries,
		Sleep:      o.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn("Retrying task", slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", err))
		},
	}

	err := retry.Do(t.ctx, policy, func(ctx context.Context) error {
		o.mu.Lock()
		t.Attempts++
		o.mu.Unlock()

		return o.attempt(ctx, t)
	})

	switch {
	case err == nil:
		o.complete(log, t)
	case t.ctx.Err() != nil:
		o.removePartial(log, t)
		log.Info("Task cancelled")
		o.finish(t, entity.TaskStateCancelled, nil)
	default:
		o.removePartial(log, t)
		log.Error("Task failed", slog.Any("error", err))
		o.finish(t, entity.TaskStateFailed, err)
	}
}

// attempt makes one transfer bounded by the per-task timeout.
func (o *Orchestrator) attempt(ctx context.Context, t *task) error {
	actx, cancel := context.WithTimeout(ctx, o.cfg.PerTaskTimeout)
	defer cancel()

	err := o.transfer(actx, t)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, common.ErrTimeoutError) {
		return fmt.Errorf("%w: task exceeded %s: %w", common.ErrTimeoutError, o.cfg.PerTaskTimeout, err)
	}

	return err
}

func (o *Orchestrator) transfer(ctx context.Context, t *task) error {
	body, size, err := o.source.Open(ctx, t.SourceURL)
	if err != nil {
		return fmt.Errorf("cannot open source: %w", err)
	}
	defer body.Close()

	if err := o.fs.MkdirAll(filepath.Dir(t.DestinationPath), dirPerm); err != nil {
		return common.FileSystem("create directory", err)
	}

	f, err := o.fs.Create(t.DestinationPath)
	if err != nil {
		return common.FileSystem("create file", err)
	}

	expected := t.ExpectedSize
	if expected <= 0 && size > 0 {
		expected = size
	}

	written, err := o.copy(ctx, t, f, body, expected)
	if cErr := f.Close(); cErr != nil && err == nil {
		err = common.FileSystem("close file", cErr)
	}
	if err != nil {
		return err
	}

	if expected > 0 && written < expected {
		return fmt.Errorf("%w: short body: got %d of %d bytes", common.ErrNetworkError, written, expected)
	}

	return nil
}

func (o *Orchestrator) copy(ctx context.Context, t *task, dst io.Writer, src io.Reader, expected int64) (int64, error) {
	buf := make([]byte, o.cfg.ChunkSize)

	var (
		written   int64
		lastBytes int64
		lastEmit  time.Time
		lastAt    = o.now()
	)

	progress := func(force bool) {
		now := o.now()
		if ctx.Err() != nil || written == lastBytes {
			return
		}
		if !force && !lastEmit.IsZero() && now.Sub(lastEmit) < o.cfg.ProgressInterval {
			return
		}

		o.emit(progressEvent(t.TaskID, written, expected, written-lastBytes, now.Sub(lastAt)))
		lastEmit, lastAt, lastBytes = now, now, written
	}

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rErr := src.Read(buf)
		if n > 0 {
			if _, wErr := dst.Write(buf[:n]); wErr != nil {
				return written, common.FileSystem("write file", wErr)
			}
			written += int64(n)

			o.mu.Lock()
			t.BytesWritten = written
			o.mu.Unlock()

			progress(false)
		}

		if errors.Is(rErr, io.EOF) {
			progress(true)

			return written, nil
		}

		if rErr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}

			return written, fmt.Errorf("%w: read body: %w", common.ErrNetworkError, rErr)
		}
	}
}

func progressEvent(taskID string, written, expected, delta int64, elapsed time.Duration) entity.Event {
	ev := entity.Event{Kind: entity.EventProgressUpdate, TaskID: taskID, BytesWritten: written}

	if expected > 0 {
		ev.Percentage = float64(written) * 100 / float64(expected)
		if ev.Percentage > 100 {
			ev.Percentage = 100
		}
	}

	if elapsed > 0 {
		ev.Speed = float64(delta) / elapsed.Seconds()
	}

	return ev
}

func (o *Orchestrator) complete(log *slog.Logger, t *task) {
	o.mu.Lock()
	snapshot := t.DownloadTask
	o.mu.Unlock()
	snapshot.State = entity.TaskStateCompleted

	for _, hook := range o.hooks {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), hookTimeout)
		if err := hook.TaskCompleted(ctx, snapshot); err != nil {
			log.Error("Completion hook failed", slog.Any("error", err))
		}
		cancel()
	}

	log.Info("Task completed", slog.Int64("bytes", snapshot.BytesWritten))
	o.finish(t, entity.TaskStateCompleted, nil)
}

func (o *Orchestrator) removePartial(log *slog.Logger, t *task) {
	if err := o.fs.Remove(t.DestinationPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Cannot remove partial file", slog.String("path", t.DestinationPath), slog.Any("error", err))
	}
}

// finish records the terminal state and emits the terminal event followed by the
// overall progress. Holding emitMu across both keeps the last overall update current.
func (o *Orchestrator) finish(t *task, state entity.TaskState, err error) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	t.State = state
	t.Err = err
	o.finished++
	done, total := o.finished, len(o.tasks)
	ev := entity.Event{TaskID: t.TaskID, Err: err}
	switch state {
	case entity.TaskStateCompleted:
		ev.Kind = entity.EventTaskCompleted
		ev.OutputPath = t.DestinationPath
		ev.BytesWritten = t.BytesWritten
	case entity.TaskStateFailed:
		ev.Kind = entity.EventTaskFailed
	default:
		ev.Kind = entity.EventTaskCancelled
	}
	o.mu.Unlock()

	o.events <- ev
	o.events <- entity.Event{Kind: entity.EventOverallProgressUpdate, CompletedTasks: done, TotalTasks: total}
}

func (o *Orchestrator) emit(ev entity.Event) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.events <- ev
}
