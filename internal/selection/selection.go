// Package selection turns user picks into a concrete, deduplicated list of files.
package selection

import (
	"fmt"
	"strings"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/util"
)

const idSeparator = "-"

// Selection names a whole meeting when StableID is empty, otherwise one file of it.
type Selection struct {
	MeetingUUID string
	StableID    string
}

func (s Selection) String() string {
	if s.StableID == "" {
		return s.MeetingUUID
	}

	return s.MeetingUUID + idSeparator + s.StableID
}

type Item struct {
	Meeting *entity.Meeting
	File    *entity.RecordingFile
}

// TaskID is the download task id: meeting uuid and stable id joined by "-".
func (i Item) TaskID() string {
	return i.Meeting.UUID + idSeparator + i.File.StableID
}

// Filename is the destination path relative to the download root.
func (i Item) Filename() string {
	return util.FileName(i.Meeting, i.File)
}

type WarningKind string

const (
	WarningNoDownloadURL  WarningKind = "no_download_url"
	WarningUnknownMeeting WarningKind = "unknown_meeting"
	WarningUnknownFile    WarningKind = "unknown_file"
)

// Warning reports a selection entry that was skipped without failing the batch.
type Warning struct {
	Kind        WarningKind
	MeetingUUID string
	StableID    string
	Topic       string
}

func (w Warning) String() string {
	switch w.Kind {
	case WarningNoDownloadURL:
		return fmt.Sprintf("%s (%s): file %s has no download URL", w.Topic, w.MeetingUUID, w.StableID)
	case WarningUnknownMeeting:
		return fmt.Sprintf("meeting %s not found", w.MeetingUUID)
	default:
		return fmt.Sprintf("file %s not found in meeting %s", w.StableID, w.MeetingUUID)
	}
}

type Result struct {
	Items    []Item
	Warnings []Warning
}

func (r Result) TotalSize() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.File.SizeBytes
	}

	return total
}

// Resolve expands selections against the catalog. Whole-meeting selections include
// every file, provider-synthesized ones too. Duplicates keep their first position.
func Resolve(catalog []entity.Meeting, selections []Selection) Result {
	byUUID := make(map[string]*entity.Meeting, len(catalog))
	for i := range catalog {
		byUUID[catalog[i].UUID] = &catalog[i]
	}

	var (
		res     Result
		seen    = make(map[string]struct{})
		warned  = make(map[string]struct{})
		addFile = func(m *entity.Meeting, f *entity.RecordingFile) {
			key := m.UUID + idSeparator + f.StableID
			if f.DownloadURL == "" {
				if _, ok := warned[key]; !ok {
					warned[key] = struct{}{}
					res.Warnings = append(res.Warnings, Warning{
						Kind: WarningNoDownloadURL, MeetingUUID: m.UUID, StableID: f.StableID, Topic: m.Topic,
					})
				}

				return
			}

			if _, ok := seen[key]; ok {
				return
			}
			seen[key] = struct{}{}
			res.Items = append(res.Items, Item{Meeting: m, File: f})
		}
	)

	for _, sel := range selections {
		m, ok := byUUID[sel.MeetingUUID]
		if !ok {
			res.Warnings = append(res.Warnings, Warning{Kind: WarningUnknownMeeting, MeetingUUID: sel.MeetingUUID})

			continue
		}

		if sel.StableID == "" {
			for i := range m.Files {
				addFile(m, &m.Files[i])
			}

			continue
		}

		f, ok := m.File(sel.StableID)
		if !ok {
			res.Warnings = append(res.Warnings, Warning{
				Kind: WarningUnknownFile, MeetingUUID: m.UUID, StableID: sel.StableID, Topic: m.Topic,
			})

			continue
		}
		addFile(m, f)
	}

	return res
}

// All selects every meeting of the catalog.
func All(catalog []entity.Meeting) []Selection {
	out := make([]Selection, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, Selection{MeetingUUID: m.UUID})
	}

	return out
}

// Parse maps "uuid" and "uuid-stableID" strings onto selections. Meeting uuids
// may themselves contain "-", so the longest uuid that prefixes the id wins.
func Parse(catalog []entity.Meeting, ids []string) ([]Selection, error) {
	out := make([]Selection, 0, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		sel, ok := parseOne(catalog, id)
		if !ok {
			return nil, common.Validation("unknown recording id %q", id)
		}
		out = append(out, sel)
	}

	return out, nil
}

func parseOne(catalog []entity.Meeting, id string) (Selection, bool) {
	var (
		best  Selection
		found bool
	)

	for i := range catalog {
		m := &catalog[i]

		if id == m.UUID {
			if !found || len(m.UUID) > len(best.MeetingUUID) {
				best, found = Selection{MeetingUUID: m.UUID}, true
			}

			continue
		}

		prefix := m.UUID + idSeparator
		if !strings.HasPrefix(id, prefix) {
			continue
		}

		stableID := strings.TrimPrefix(id, prefix)
		if _, ok := m.File(stableID); !ok {
			continue
		}

		if !found || len(m.UUID) > len(best.MeetingUUID) {
			best, found = Selection{MeetingUUID: m.UUID, StableID: stableID}, true
		}
	}

	return best, found
}
