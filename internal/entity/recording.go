package entity

import "time"

type FileType string

const (
	FileTypeVideo      FileType = "video"
	FileTypeAudio      FileType = "audio"
	FileTypeChat       FileType = "chat"
	FileTypeTranscript FileType = "transcript"
	FileTypeCaptions   FileType = "captions"
	FileTypeSummary    FileType = "summary"
	FileTypeTimeline   FileType = "timeline"
	FileTypeOther      FileType = "other"
)

// RecordingFile is one downloadable artifact of a meeting.
type RecordingFile struct {
	StableID      string // Always set; equals NativeID when the provider supplies one
	NativeID      string
	FileType      FileType
	ProviderType  string // Raw provider file_type, e.g. MP4, SUMMARY
	RecordingType string
	SizeBytes     int64
	DownloadURL   string
	Extension     string
}

// Meeting owns its recording files.
type Meeting struct {
	UUID      string
	ID        int64
	Topic     string
	StartTime time.Time
	Files     []RecordingFile
}

func (m *Meeting) File(stableID string) (*RecordingFile, bool) {
	for i := range m.Files {
		if m.Files[i].StableID == stableID {
			return &m.Files[i], true
		}
	}

	return nil, false
}

func (m *Meeting) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.SizeBytes
	}

	return total
}
