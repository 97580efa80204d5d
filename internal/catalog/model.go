package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/jgivc/recfetch/internal/entity"
)

const autoIDPrefix = "auto_"

type listRecordingsResponse struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	PageSize      int             `json:"page_size"`
	TotalRecords  int             `json:"total_records"`
	NextPageToken string          `json:"next_page_token,omitempty"`
	Meetings      []meetingRecord `json:"meetings"`
}

type meetingRecord struct {
	UUID           string       `json:"uuid"`
	ID             int64        `json:"id"`
	Topic          string       `json:"topic"`
	StartTime      time.Time    `json:"start_time"`
	RecordingFiles []fileRecord `json:"recording_files"`
}

type fileRecord struct {
	ID            string `json:"id"`
	FileType      string `json:"file_type"`
	FileExtension string `json:"file_extension,omitempty"`
	FileSize      int64  `json:"file_size"`
	DownloadURL   string `json:"download_url"`
	Status        string `json:"status"`
	RecordingType string `json:"recording_type,omitempty"`
}

var fileTypes = map[string]entity.FileType{
	"MP4":        entity.FileTypeVideo,
	"M4A":        entity.FileTypeAudio,
	"CHAT":       entity.FileTypeChat,
	"TRANSCRIPT": entity.FileTypeTranscript,
	"CC":         entity.FileTypeCaptions,
	"SUMMARY":    entity.FileTypeSummary,
	"TIMELINE":   entity.FileTypeTimeline,
}

var defaultExtensions = map[string]string{
	"MP4":        "mp4",
	"M4A":        "m4a",
	"CHAT":       "txt",
	"TRANSCRIPT": "vtt",
	"CC":         "vtt",
	"SUMMARY":    "json",
	"TIMELINE":   "json",
}

// MapFileType maps a provider file_type onto the local classification.
func MapFileType(providerType string) entity.FileType {
	if ft, ok := fileTypes[strings.ToUpper(providerType)]; ok {
		return ft
	}

	return entity.FileTypeOther
}

func extension(f fileRecord) string {
	if f.FileExtension != "" {
		return strings.ToLower(strings.TrimPrefix(f.FileExtension, "."))
	}

	if ext, ok := defaultExtensions[strings.ToUpper(f.FileType)]; ok {
		return ext
	}

	if f.FileType != "" {
		return strings.ToLower(f.FileType)
	}

	return "bin"
}

// normalize converts a provider record. Files without a native id get
// auto_<type>, suffixed with _<n> when the same meeting already has that id.
func normalize(rec meetingRecord) entity.Meeting {
	m := entity.Meeting{
		UUID:      rec.UUID,
		ID:        rec.ID,
		Topic:     rec.Topic,
		StartTime: rec.StartTime,
		Files:     make([]entity.RecordingFile, 0, len(rec.RecordingFiles)),
	}

	used := make(map[string]struct{}, len(rec.RecordingFiles))
	for _, f := range rec.RecordingFiles {
		if f.ID != "" {
			used[f.ID] = struct{}{}
		}
	}

	for _, f := range rec.RecordingFiles {
		stableID := f.ID
		if stableID == "" {
			base := autoIDPrefix + strings.ToLower(f.FileType)
			if f.FileType == "" {
				base = autoIDPrefix + string(entity.FileTypeOther)
			}

			stableID = base
			for n := 2; ; n++ {
				if _, taken := used[stableID]; !taken {
					break
				}
				stableID = fmt.Sprintf("%s_%d", base, n)
			}
			used[stableID] = struct{}{}
		}

		m.Files = append(m.Files, entity.RecordingFile{
			StableID:      stableID,
			NativeID:      f.ID,
			FileType:      MapFileType(f.FileType),
			ProviderType:  f.FileType,
			RecordingType: f.RecordingType,
			SizeBytes:     f.FileSize,
			DownloadURL:   f.DownloadURL,
			Extension:     extension(f),
		})
	}

	return m
}
