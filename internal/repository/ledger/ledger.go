// Package ledger remembers which recording files have already been downloaded.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jgivc/recfetch/internal/entity"
)

const (
	KeyPrefix      = "recfetch"
	KeyCompleted   = "done" // HASH. task_id -> destination path
	KeyCompletedAt = "at"   // HASH. task_id -> unix seconds
	KeyFileCount   = "fc"   // HASH. extension -> number of completed files
	KeyFileBytes   = "fb"   // HASH. extension -> total bytes of completed files
	KeySeparator   = ":"

	ScanCount   = 1000
	unknownKind = "none"
)

type Entry struct {
	TaskID string
	Path   string
}

type ledgerRepository struct {
	cl     *redis.Client
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

func NewLedgerRepository(cl *redis.Client, log *slog.Logger) *ledgerRepository {
	return &ledgerRepository{
		cl:     cl,
		prefix: KeyPrefix,
		now:    time.Now,
		log:    log.With(slog.String("item", "LedgerRepository")),
	}
}

// SetPrefix namespaces every key under prefix instead of KeyPrefix.
func (r *ledgerRepository) SetPrefix(prefix string) {
	r.prefix = prefix
}

func (r *ledgerRepository) MarkCompleted(ctx context.Context, taskID, path string, size int64) error {
	kind := fileKind(path)

	pipe := r.cl.TxPipeline()
	pipe.HSet(ctx, r.key(KeyCompleted), taskID, path)
	pipe.HSet(ctx, r.key(KeyCompletedAt), taskID, r.now().Unix())
	pipe.HIncrBy(ctx, r.key(KeyFileCount), kind, 1)
	pipe.HIncrBy(ctx, r.key(KeyFileBytes), kind, size)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot mark %s completed: %w", taskID, err)
	}

	return nil
}

// TaskCompleted records a finished download.
func (r *ledgerRepository) TaskCompleted(ctx context.Context, task entity.DownloadTask) error {
	return r.MarkCompleted(ctx, task.TaskID, task.DestinationPath, task.BytesWritten)
}

// Completed returns the recorded path of a finished task.
func (r *ledgerRepository) Completed(ctx context.Context, taskID string) (string, bool, error) {
	path, err := r.cl.HGet(ctx, r.key(KeyCompleted), taskID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("cannot get task %s: %w", taskID, err)
	}

	return path, true, nil
}

// CompletedSet reports which of taskIDs are already recorded.
func (r *ledgerRepository) CompletedSet(ctx context.Context, taskIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}

	vals, err := r.cl.HMGet(ctx, r.key(KeyCompleted), taskIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get completed tasks: %w", err)
	}

	for i, v := range vals {
		if v != nil {
			out[taskIDs[i]] = true
		}
	}

	return out, nil
}

func (r *ledgerRepository) Forget(ctx context.Context, taskIDs ...string) error {
	if len(taskIDs) == 0 {
		return nil
	}

	pipe := r.cl.Pipeline()
	pipe.HDel(ctx, r.key(KeyCompleted), taskIDs...)
	pipe.HDel(ctx, r.key(KeyCompletedAt), taskIDs...)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot forget tasks: %w", err)
	}

	return nil
}

// Counters returns completed file counts and byte totals per file extension.
func (r *ledgerRepository) Counters(ctx context.Context) (map[string]int64, map[string]int64, error) {
	pipe := r.cl.Pipeline()
	countCmd := pipe.HGetAll(ctx, r.key(KeyFileCount))
	bytesCmd := pipe.HGetAll(ctx, r.key(KeyFileBytes))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("cannot get counters: %w", err)
	}

	return r.parseCounters(countCmd.Val()), r.parseCounters(bytesCmd.Val()), nil
}

func (r *ledgerRepository) parseCounters(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.log.Error("Cannot parse counter", slog.String("key", k), slog.Any("error", err))

			continue
		}
		out[k] = n
	}

	return out
}

// All iterates over every recorded download.
func (r *ledgerRepository) All(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var cursor uint64
		for {
			kvs, next, err := r.cl.HScan(ctx, r.key(KeyCompleted), cursor, "*", ScanCount).Result()
			if err != nil {
				yield(Entry{}, fmt.Errorf("cannot scan ledger: %w", err))

				return
			}

			for i := 0; i+1 < len(kvs); i += 2 {
				if !yield(Entry{TaskID: kvs[i], Path: kvs[i+1]}, nil) {
					return
				}
			}

			cursor = next
			if cursor == 0 {
				return
			}
		}
	}
}

func fileKind(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return unknownKind
	}

	return ext
}

func (r *ledgerRepository) key(name string) string {
	return getKey(r.prefix, name)
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
