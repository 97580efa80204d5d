// Package catalog lists the recordings available for a date range.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jgivc/recfetch/internal/client"
	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/retry"
)

const (
	MaxPageSize    = 300
	MaxWindow      = 30 * 24 * time.Hour
	DefaultWorkers = 2
	DefaultUserID  = "me"

	dateLayout = "2006-01-02"
	maxPages   = 1000
)

// JSONGetter performs an authorized GET and decodes the body. *client.Executor satisfies it.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, tokens client.TokenSource, out any) error
}

type Config struct {
	APIBaseURL string
	UserID     string
	PageSize   int
	Workers    int
	MaxRetries int
	Sleep      retry.SleepFunc
}

type Fetcher struct {
	api    JSONGetter
	tokens client.TokenSource
	cfg    Config
	log    *slog.Logger
}

func NewFetcher(api JSONGetter, tokens client.TokenSource, cfg Config, log *slog.Logger) *Fetcher {
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.UserID == "" {
		cfg.UserID = DefaultUserID
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Fetcher{
		api:    api,
		tokens: tokens,
		cfg:    cfg,
		log:    log.With(slog.String("item", "CatalogFetcher")),
	}
}

type window struct {
	from, to time.Time
}

// splitWindows splits the inclusive day range [from, to] into spans of at most 30 days.
func splitWindows(from, to time.Time) []window {
	from, to = day(from), day(to)

	var windows []window
	for start := from; !start.After(to); {
		end := start.Add(MaxWindow - 24*time.Hour)
		if end.After(to) {
			end = to
		}

		windows = append(windows, window{from: start, to: end})
		start = end.Add(24 * time.Hour)
	}

	return windows
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type windowResult struct {
	meetings []entity.Meeting
	err      error
}

// Fetch returns every meeting with recordings between from and to, newest first.
func (f *Fetcher) Fetch(ctx context.Context, from, to time.Time) ([]entity.Meeting, error) {
	if from.After(to) {
		return nil, common.Validation("from %s is after to %s", from.Format(dateLayout), to.Format(dateLayout))
	}

	windows := splitWindows(from, to)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan window, len(windows))
	out := make(chan windowResult, len(windows))

	for _, w := range windows {
		in <- w
	}
	close(in)

	workers := f.cfg.Workers
	if workers > len(windows) {
		workers = len(windows)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go f.worker(ctx, n, in, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var (
		firstErr error
		meetings []entity.Meeting
		seen     = make(map[string]struct{})
	)
	for res := range out {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}

			continue
		}

		for _, m := range res.meetings {
			if _, dup := seen[m.UUID]; dup {
				continue
			}
			seen[m.UUID] = struct{}{}
			meetings = append(meetings, m)
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}

	sort.SliceStable(meetings, func(i, j int) bool {
		if !meetings[i].StartTime.Equal(meetings[j].StartTime) {
			return meetings[i].StartTime.After(meetings[j].StartTime)
		}

		return meetings[i].UUID < meetings[j].UUID
	})

	f.log.Info("Catalog fetched", slog.Int("meetings", len(meetings)), slog.Int("windows", len(windows)))

	return meetings, nil
}

func (f *Fetcher) worker(ctx context.Context, n int, in <-chan window, out chan<- windowResult, wg *sync.WaitGroup) {
	defer wg.Done()

	log := f.log.With(slog.Int("worker_id", n))
	log.Debug("Started")

	for w := range in {
		if ctx.Err() != nil {
			log.Debug("Interrupted")

			return
		}

		meetings, err := f.fetchWindow(ctx, w)
		if err != nil {
			log.Error("Cannot fetch window", slog.String("from", w.from.Format(dateLayout)),
				slog.String("to", w.to.Format(dateLayout)), slog.Any("error", err))
		}

		out <- windowResult{meetings: meetings, err: err}
	}

	log.Debug("Done")
}

func (f *Fetcher) fetchWindow(ctx context.Context, w window) ([]entity.Meeting, error) {
	policy := retry.Policy{
		MaxRetries: f.cfg.MaxRetries,
		Sleep:      f.cfg.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			f.log.Warn("Retrying recordings request", slog.Int("attempt", attempt),
				slog.Duration("delay", delay), slog.Any("error", err))
		},
	}

	var (
		meetings  []entity.Meeting
		pageToken string
	)
	for page := 0; page < maxPages; page++ {
		u := f.pageURL(w, pageToken)

		var resp listRecordingsResponse
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			resp = listRecordingsResponse{}

			return f.api.GetJSON(ctx, u, f.tokens, &resp)
		})
		if err != nil {
			return nil, fmt.Errorf("cannot list recordings %s..%s: %w",
				w.from.Format(dateLayout), w.to.Format(dateLayout), err)
		}

		for _, rec := range resp.Meetings {
			meetings = append(meetings, normalize(rec))
		}

		if resp.NextPageToken == "" || resp.NextPageToken == pageToken {
			break
		}
		pageToken = resp.NextPageToken
	}

	return meetings, nil
}

func (f *Fetcher) pageURL(w window, pageToken string) string {
	q := url.Values{}
	q.Set("from", w.from.Format(dateLayout))
	q.Set("to", w.to.Format(dateLayout))
	q.Set("page_size", strconv.Itoa(f.cfg.PageSize))
	if pageToken != "" {
		q.Set("next_page_token", pageToken)
	}

	return f.cfg.APIBaseURL + "/v2/users/" + url.PathEscape(f.cfg.UserID) + "/recordings?" + q.Encode()
}
