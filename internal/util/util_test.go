package util

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jgivc/recfetch/internal/entity"
)

func TestSanitizeFilename(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{in: "Weekly Sync", want: "Weekly_Sync"},
		{in: "a/b\\c:d*e?f\"g<h>i|j", want: "a_b_c_d_e_f_g_h_i_j"},
		{in: "  spaced   out  ", want: "spaced_out"},
		{in: "...", want: "untitled"},
		{in: "", want: "untitled"},
		{in: "Встреча команды", want: "Встреча_команды"},
		{in: "tab\tand\nnewline", want: "tab_and_newline"},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			require.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	out := SanitizeFilename(strings.Repeat("x", 200))
	require.Len(t, out, maxNameLen)
}

func TestFileName(t *testing.T) {
	m := &entity.Meeting{
		UUID:      "aDd/Ab+c==",
		Topic:     "Design: review",
		StartTime: time.Date(2025, 1, 3, 15, 4, 0, 0, time.UTC),
	}

	video := &entity.RecordingFile{StableID: "f1", FileType: entity.FileTypeVideo, RecordingType: "shared_screen_with_speaker_view", Extension: "mp4"}
	summary := &entity.RecordingFile{StableID: "auto_summary", FileType: entity.FileTypeSummary, Extension: "json"}

	dir := MeetingDir(m)
	require.True(t, strings.HasPrefix(dir, "2025-01-03_1504_Design_review_"))
	require.NotContains(t, dir, "/")

	require.Equal(t, filepath.Join(dir, "shared_screen_with_speaker_view_"+ShortID("f1")+".mp4"), FileName(m, video))
	require.Equal(t, filepath.Join(dir, "summary_"+ShortID("auto_summary")+".json"), FileName(m, summary))
	require.NotEqual(t, FileName(m, video), FileName(m, summary))
}

func TestHumanSize(t *testing.T) {
	testCases := []struct {
		in   int64
		want string
	}{
		{in: 0, want: "0 B"},
		{in: 1023, want: "1023 B"},
		{in: 1536, want: "1.5 KiB"},
		{in: 5 * 1024 * 1024, want: "5.0 MiB"},
		{in: 3 * 1024 * 1024 * 1024, want: "3.0 GiB"},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.want, HumanSize(tc.in))
	}
}
