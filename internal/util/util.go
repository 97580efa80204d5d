package util

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jgivc/recfetch/internal/entity"
)

const (
	maxNameLen   = 80
	shortIDLen   = 8
	untitledName = "untitled"
	folderLayout = "2006-01-02_1504"
)

func GetIDFromString(str string) string {
	hasher := sha1.New()
	hasher.Write([]byte(str))

	return hex.EncodeToString(hasher.Sum(nil))
}

// ShortID is a filesystem safe digest of an arbitrary provider id.
func ShortID(str string) string {
	return GetIDFromString(str)[:shortIDLen]
}

// SanitizeFilename replaces characters that are unsafe in file names on common
// filesystems and trims the result to a bounded length.
func SanitizeFilename(name string) string {
	var b strings.Builder
	lastUnderscore := false

	for _, r := range strings.TrimSpace(name) {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r), unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}

	out := strings.Trim(b.String(), "._ ")
	if runes := []rune(out); len(runes) > maxNameLen {
		out = strings.TrimRight(string(runes[:maxNameLen]), "._ ")
	}

	if out == "" {
		return untitledName
	}

	return out
}

// MeetingDir names the folder holding every file of a meeting.
func MeetingDir(m *entity.Meeting) string {
	return m.StartTime.UTC().Format(folderLayout) + "_" + SanitizeFilename(m.Topic) + "_" + ShortID(m.UUID)
}

// FileName is the path of a recording file relative to the destination root.
func FileName(m *entity.Meeting, f *entity.RecordingFile) string {
	kind := string(f.FileType)
	if f.RecordingType != "" {
		kind = f.RecordingType
	}

	name := SanitizeFilename(kind) + "_" + ShortID(f.StableID)
	if f.Extension != "" {
		name += "." + SanitizeFilename(f.Extension)
	}

	return filepath.Join(MeetingDir(m), name)
}

// HumanSize formats a byte count with binary units.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
