package fsadapter

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/util"
)

const root = "/downloads"

func newTestAdapter(t *testing.T) (*fsAdapter, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	a, err := NewFSAdapterWithFS(fs, root, log)
	require.NoError(t, err)

	return a, fs
}

func testMeeting() *entity.Meeting {
	return &entity.Meeting{
		UUID:      "m-uuid==",
		Topic:     "Weekly {sync}",
		StartTime: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		Files: []entity.RecordingFile{
			{StableID: "f1", FileType: entity.FileTypeVideo, RecordingType: "shared_screen", Extension: "mp4"},
			{StableID: "f2", FileType: entity.FileTypeChat, Extension: "txt"},
			{StableID: "f3", FileType: entity.FileTypeTranscript, Extension: "vtt"},
		},
	}
}

func writeDownloaded(t *testing.T, fs afero.Fs, m *entity.Meeting, f *entity.RecordingFile, data string) {
	t.Helper()

	require.NoError(t, afero.WriteFile(fs, filepath.Join(root, util.FileName(m, f)), []byte(data), 0o644))
}

func TestWriteIndex(t *testing.T) {
	a, fs := newTestAdapter(t)
	m := testMeeting()

	writeDownloaded(t, fs, m, &m.Files[0], "video-bytes")
	writeDownloaded(t, fs, m, &m.Files[1], "chat")

	// f3 was not downloaded and must be left out.
	require.NoError(t, a.WriteIndex(m, []*entity.RecordingFile{&m.Files[0], &m.Files[1], &m.Files[2]}))

	md, err := afero.ReadFile(fs, filepath.Join(a.Dir(m), IndexMarkdownName))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(md), "---\n"))
	require.Contains(t, string(md), "- {{ file: f1 }}")
	require.NotContains(t, string(md), "f3")

	page, err := afero.ReadFile(fs, filepath.Join(a.Dir(m), IndexHTMLName))
	require.NoError(t, err)
	require.Contains(t, string(page), "<title>Weekly {sync}</title>")
	require.Contains(t, string(page), `href="shared_screen_`+util.ShortID("f1")+`.mp4"`)
	require.Contains(t, string(page), "11 B")

	fm, err := a.ReadIndex(a.Dir(m))
	require.NoError(t, err)
	require.Equal(t, "m-uuid==", fm.UUID)
	require.Equal(t, "Weekly {sync}", fm.Topic)
	require.Equal(t, "2024-03-05T14:30:00Z", fm.StartTime)
	require.Len(t, fm.Files, 2)
	require.Equal(t, IndexFile{StableID: "f2", Type: "chat", Name: "chat_" + util.ShortID("f2") + ".txt", Size: 4}, fm.Files[1])
}

func TestWriteIndexMergesBatches(t *testing.T) {
	a, fs := newTestAdapter(t)
	m := testMeeting()

	writeDownloaded(t, fs, m, &m.Files[0], "v")
	require.NoError(t, a.WriteIndex(m, []*entity.RecordingFile{&m.Files[0]}))

	writeDownloaded(t, fs, m, &m.Files[2], "WEBVTT")
	require.NoError(t, a.WriteIndex(m, []*entity.RecordingFile{&m.Files[2]}))

	ids, err := a.Indexed(m)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"f1": {}, "f3": {}}, ids)
}

func TestWriteIndexNothingDownloaded(t *testing.T) {
	a, fs := newTestAdapter(t)
	m := testMeeting()

	require.NoError(t, a.WriteIndex(m, []*entity.RecordingFile{&m.Files[0]}))

	exists, err := afero.Exists(fs, filepath.Join(a.Dir(m), IndexMarkdownName))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestReadIndex(t *testing.T) {
	a, fs := newTestAdapter(t)

	fm, err := a.ReadIndex("/downloads/none")
	require.NoError(t, err)
	require.Nil(t, fm)

	require.NoError(t, afero.WriteFile(fs, "/downloads/plain/index.md", []byte("# no header\n"), 0o644))
	_, err = a.ReadIndex("/downloads/plain")
	require.ErrorIs(t, err, common.ErrValidationError)

	require.NoError(t, afero.WriteFile(fs, "/downloads/ok/index.md", []byte("---\nuuid: abc\nfiles:\n  - stable_id: x\n    size: 3\n---\nbody\n"), 0o644))
	fm, err = a.ReadIndex("/downloads/ok")
	require.NoError(t, err)
	require.Equal(t, "abc", fm.UUID)
	require.True(t, fm.Has("x"))
	require.False(t, fm.Has("y"))
}

func TestFileResolver(t *testing.T) {
	var files []IndexFile
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		files = append(files, IndexFile{StableID: id, Type: "video", Name: id + ".mp4"})
	}

	for _, r := range []*fileResolver{newFileResolver(files[:3]), newFileResolver(files)} {
		link, err := r.ResolveFile("b")
		require.NoError(t, err)
		require.Equal(t, "b.mp4", link.Href)

		_, err = r.ResolveFile("zz")
		require.Error(t, err)
	}
}
