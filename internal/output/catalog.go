package output

import (
	"fmt"

	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/service/counter"
	"github.com/jgivc/recfetch/internal/util"
)

const timeLayout = "2006-01-02 15:04"

// DownloadedFunc reports whether a file is already present locally.
type DownloadedFunc func(m *entity.Meeting, f *entity.RecordingFile) bool

// PrintCatalog lists meetings with their files. The printed ids are accepted by
// download --select.
func (f *Formatter) PrintCatalog(meetings []entity.Meeting, downloaded DownloadedFunc) {
	if len(meetings) == 0 {
		fmt.Fprintln(f.w, f.st.dim.Render("no recordings"))

		return
	}

	var total int64
	for i := range meetings {
		m := &meetings[i]
		total += m.TotalSize()

		fmt.Fprintf(f.w, "%s %s %s\n",
			f.st.title.Render(m.StartTime.Local().Format(timeLayout)),
			m.Topic,
			f.st.dim.Render(fmt.Sprintf("[%s] %s", m.UUID, util.HumanSize(m.TotalSize()))),
		)

		for j := range m.Files {
			file := &m.Files[j]

			mark := " "
			if downloaded != nil && downloaded(m, file) {
				mark = f.st.done.Render("*")
			}

			line := fmt.Sprintf("  %s %-10s %10s  %s-%s", mark, file.FileType, util.HumanSize(file.SizeBytes), m.UUID, file.StableID)
			if file.DownloadURL == "" {
				line += " " + f.st.warning.Render("(not downloadable)")
			}

			fmt.Fprintln(f.w, line)
		}
	}

	fmt.Fprintln(f.w, f.st.dim.Render(fmt.Sprintf("%d meetings, %s", len(meetings), util.HumanSize(total))))
}

func (f *Formatter) PrintStats(stats []counter.Stat) {
	if len(stats) == 0 {
		fmt.Fprintln(f.w, f.st.dim.Render("no downloads recorded"))

		return
	}

	var files, size int64
	for _, s := range stats {
		files += s.Files
		size += s.Bytes
		fmt.Fprintf(f.w, "  %-8s %6d files %10s\n", s.Kind, s.Files, util.HumanSize(s.Bytes))
	}

	fmt.Fprintln(f.w, f.st.title.Render(fmt.Sprintf("%d files, %s", files, util.HumanSize(size))))
}
