package counter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	files, bytes map[string]int64
	err          error
}

func (r *fakeRepo) Counters(context.Context) (map[string]int64, map[string]int64, error) {
	return r.files, r.bytes, r.err
}

func TestStats(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	srv := NewCounterService(&fakeRepo{
		files: map[string]int64{"mp4": 2, "vtt": 3, "txt": 1},
		bytes: map[string]int64{"mp4": 5000, "vtt": 300, "txt": 300, "json": 10},
	}, log)

	stats, err := srv.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Stat{
		{Kind: "mp4", Files: 2, Bytes: 5000},
		{Kind: "txt", Files: 1, Bytes: 300},
		{Kind: "vtt", Files: 3, Bytes: 300},
		{Kind: "json", Files: 0, Bytes: 10},
	}, stats)
}

func TestStatsError(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	cause := errors.New("connection refused")

	_, err := NewCounterService(&fakeRepo{err: cause}, log).Stats(context.Background())
	require.ErrorIs(t, err, cause)
}
