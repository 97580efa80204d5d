// Package counter summarizes the per file type counters kept by the ledger.
package counter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

const (
	serviceName = "counter"
)

type CounterRepository interface {
	Counters(ctx context.Context) (files map[string]int64, bytes map[string]int64, err error)
}

// Stat is the number and total size of completed downloads of one file kind.
type Stat struct {
	Kind  string
	Files int64
	Bytes int64
}

type counterService struct {
	repo CounterRepository
	log  *slog.Logger
}

func NewCounterService(repo CounterRepository, log *slog.Logger) *counterService {
	return &counterService{
		repo: repo,
		log:  log.With(slog.String("service", serviceName)),
	}
}

// Stats returns one entry per file kind, largest total size first.
func (c *counterService) Stats(ctx context.Context) ([]Stat, error) {
	files, sizes, err := c.repo.Counters(ctx)
	if err != nil {
		c.log.Error("Cannot get download counters", slog.Any("error", err))

		return nil, fmt.Errorf("cannot get download counters: %w", err)
	}

	stats := make([]Stat, 0, len(files))
	for kind, n := range files {
		stats = append(stats, Stat{Kind: kind, Files: n, Bytes: sizes[kind]})
	}
	for kind, b := range sizes {
		if _, ok := files[kind]; !ok {
			stats = append(stats, Stat{Kind: kind, Bytes: b})
		}
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Bytes != stats[j].Bytes {
			return stats[i].Bytes > stats[j].Bytes
		}

		return stats[i].Kind < stats[j].Kind
	})

	return stats, nil
}
