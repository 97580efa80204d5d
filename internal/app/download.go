package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/output"
	"github.com/jgivc/recfetch/internal/selection"
	"github.com/jgivc/recfetch/internal/service/download"
	"github.com/jgivc/recfetch/internal/util"
)

type DownloadRequest struct {
	From    time.Time
	To      time.Time
	Select  []string // meeting uuids or "uuid-stableID"; empty selects everything
	Force   bool     // download files already recorded as completed
	NoIndex bool
}

// List fetches the recording catalog for [from, to].
func (a *App) List(ctx context.Context, from, to time.Time) ([]entity.Meeting, error) {
	return a.catalog.Fetch(ctx, from, to)
}

// Downloaded reports which files of meetings are already present locally.
func (a *App) Downloaded(ctx context.Context, meetings []entity.Meeting) output.DownloadedFunc {
	var items []selection.Item
	for i := range meetings {
		for j := range meetings[i].Files {
			items = append(items, selection.Item{Meeting: &meetings[i], File: &meetings[i].Files[j]})
		}
	}

	done := a.completed(ctx, items)

	return func(m *entity.Meeting, f *entity.RecordingFile) bool {
		return done[selection.Item{Meeting: m, File: f}.TaskID()]
	}
}

// Download fetches the catalog, resolves the selection and transfers every
// selected file, printing progress through f. It returns once every task is
// terminal or ctx is done.
func (a *App) Download(ctx context.Context, req DownloadRequest, f *output.Formatter) (output.Summary, error) {
	meetings, err := a.catalog.Fetch(ctx, req.From, req.To)
	if err != nil {
		return output.Summary{}, err
	}

	sels := selection.All(meetings)
	if len(req.Select) > 0 {
		if sels, err = selection.Parse(meetings, req.Select); err != nil {
			return output.Summary{}, err
		}
	}

	res := selection.Resolve(meetings, sels)
	f.PrintWarnings(res.Warnings)
	a.log.Info("Selection resolved",
		slog.Int("files", len(res.Items)),
		slog.String("size", util.HumanSize(res.TotalSize())),
		slog.Int("warnings", len(res.Warnings)),
	)

	items := a.pending(ctx, res.Items, req.Force)
	if len(items) == 0 {
		a.log.Info("Nothing to download", slog.Int("selected", len(res.Items)))

		return output.Summary{Failures: map[string]error{}}, nil
	}

	orch := download.NewOrchestrator(a.fs, download.NewHTTPSource(a.exec, a.auth), a.log, a.hooks...)

	dcfg := download.DefaultConfig()
	dcfg.MaxConcurrency = a.cfg.MaxConcurrentDownloads
	dcfg.ChunkSize = a.cfg.ChunkSize
	dcfg.MaxRetries = a.cfg.MaxRetries
	dcfg.DestinationRoot = a.cfg.OutputDirectory
	if err := orch.Configure(dcfg); err != nil {
		return output.Summary{}, err
	}

	for _, item := range items {
		if err := orch.Enqueue(item.TaskID(), item.File.DownloadURL, item.Filename(), item.File.SizeBytes); err != nil {
			return output.Summary{}, err
		}
		f.Label(item.TaskID(), item.Filename())
	}

	if err := orch.Start(); err != nil {
		return output.Summary{}, err
	}

	sum := a.runBatch(ctx, orch, f)

	if !req.NoIndex {
		a.writeIndexes(orch.Snapshot(), items)
	}

	return sum, ctx.Err()
}

type batch interface {
	Events() <-chan entity.Event
	CancelAll() error
	Stop(ctx context.Context) error
}

// runBatch prints events until every task is terminal or ctx is done, then stops
// the orchestrator and drains the rest of the stream.
func (a *App) runBatch(ctx context.Context, orch batch, f *output.Formatter) output.Summary {
	tap := make(chan entity.Event)
	allDone := make(chan struct{})

	go func() {
		defer close(tap)

		var once sync.Once
		for ev := range orch.Events() {
			tap <- ev

			if ev.Kind == entity.EventOverallProgressUpdate && ev.CompletedTasks >= ev.TotalTasks {
				once.Do(func() { close(allDone) })
			}
		}
	}()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		select {
		case <-ctx.Done():
			a.log.Info("Interrupted, cancelling downloads")
			if err := orch.CancelAll(); err != nil {
				a.log.Warn("Cannot cancel downloads", slog.Any("error", err))
			}
		case <-allDone:
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		if err := orch.Stop(stopCtx); err != nil {
			a.log.Warn("Downloads did not stop cleanly", slog.Any("error", err))
		}
	}()

	sum := f.Consume(tap)
	<-stopped

	return sum
}

// pending drops items that are already downloaded unless force is set, in which
// case their ledger entries are cleared.
func (a *App) pending(ctx context.Context, items []selection.Item, force bool) []selection.Item {
	if force {
		if a.ledger != nil {
			ids := make([]string, 0, len(items))
			for _, item := range items {
				ids = append(ids, item.TaskID())
			}

			if err := a.ledger.Forget(ctx, ids...); err != nil {
				a.log.Warn("Cannot clear ledger entries", slog.Any("error", err))
			}
		}

		return items
	}

	done := a.completed(ctx, items)

	out := make([]selection.Item, 0, len(items))
	for _, item := range items {
		if done[item.TaskID()] {
			a.log.Debug("Skip downloaded file", slog.String("task_id", item.TaskID()))

			continue
		}
		out = append(out, item)
	}

	return out
}

// completed consults the ledger when one is configured, otherwise the meeting
// index pages and the files on disk.
func (a *App) completed(ctx context.Context, items []selection.Item) map[string]bool {
	done := make(map[string]bool)

	if a.ledger != nil {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.TaskID())
		}

		set, err := a.ledger.CompletedSet(ctx, ids)
		if err == nil {
			return set
		}
		a.log.Warn("Cannot read ledger, falling back to index pages", slog.Any("error", err))
	}

	indexed := make(map[*entity.Meeting]map[string]struct{})
	for _, item := range items {
		ids, ok := indexed[item.Meeting]
		if !ok {
			var err error
			if ids, err = a.index.Indexed(item.Meeting); err != nil {
				a.log.Warn("Cannot read index", slog.String("meeting", item.Meeting.UUID), slog.Any("error", err))
			}
			indexed[item.Meeting] = ids
		}

		if _, ok := ids[item.File.StableID]; !ok {
			continue
		}

		exists, err := afero.Exists(a.fs, filepath.Join(a.cfg.OutputDirectory, item.Filename()))
		if err == nil && exists {
			done[item.TaskID()] = true
		}
	}

	return done
}

func (a *App) writeIndexes(tasks []entity.DownloadTask, items []selection.Item) {
	completed := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.State == entity.TaskStateCompleted {
			completed[t.TaskID] = true
		}
	}

	var (
		order []*entity.Meeting
		files = make(map[*entity.Meeting][]*entity.RecordingFile)
	)
	for _, item := range items {
		if !completed[item.TaskID()] {
			continue
		}
		if _, ok := files[item.Meeting]; !ok {
			order = append(order, item.Meeting)
		}
		files[item.Meeting] = append(files[item.Meeting], item.File)
	}

	for _, m := range order {
		if err := a.index.WriteIndex(m, files[m]); err != nil {
			a.log.Error("Cannot write index", slog.String("meeting", m.UUID), slog.Any("error", err))
		}
	}
}
