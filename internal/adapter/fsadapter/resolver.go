package fsadapter

import (
	"fmt"

	"github.com/jgivc/recfetch/internal/adapter/fsadapter/mdadapter"
)

const (
	buildIndexThreshold = 5
)

type fileResolver struct {
	files []IndexFile
	index map[string]int
}

func newFileResolver(files []IndexFile) *fileResolver {
	return &fileResolver{files: files}
}

func (r *fileResolver) ResolveFile(stableID string) (mdadapter.Link, error) {
	if r.index == nil && len(r.files) > buildIndexThreshold {
		r.buildIndex()
	}

	if r.index != nil {
		if idx, ok := r.index[stableID]; ok {
			return toLink(r.files[idx]), nil
		}

		return mdadapter.Link{}, fmt.Errorf("cannot find file: %s", stableID)
	}

	for i := range r.files {
		if r.files[i].StableID == stableID {
			return toLink(r.files[i]), nil
		}
	}

	return mdadapter.Link{}, fmt.Errorf("cannot find file: %s", stableID)
}

func (r *fileResolver) buildIndex() {
	index := make(map[string]int, len(r.files))
	for i, file := range r.files {
		index[file.StableID] = i
	}

	r.index = index
}

func toLink(f IndexFile) mdadapter.Link {
	return mdadapter.Link{
		Href:  f.Name,
		Title: f.Type + ": " + f.Name,
		Size:  f.Size,
	}
}
