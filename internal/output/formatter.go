// Package output prints orchestrator events and catalog listings for a terminal.
package output

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/selection"
	"github.com/jgivc/recfetch/internal/util"
)

const (
	progressStep = 25
	labelWidth   = 5
)

// Summary is the outcome of a batch as seen on the event stream.
type Summary struct {
	Completed int
	Failed    int
	Cancelled int
	Bytes     int64
	Failures  map[string]error
}

func (s Summary) OK() bool {
	return s.Failed == 0 && s.Cancelled == 0
}

type Formatter struct {
	w      io.Writer
	st     styles
	names  map[string]string
	bucket map[string]int
}

// NewFormatter writes to w. names maps task ids to the labels printed for them.
func NewFormatter(w io.Writer, names map[string]string) *Formatter {
	if names == nil {
		names = make(map[string]string)
	}

	return &Formatter{
		w:      w,
		st:     newStyles(lipgloss.NewRenderer(w)),
		names:  names,
		bucket: make(map[string]int),
	}
}

// Label sets the name printed for taskID.
func (f *Formatter) Label(taskID, name string) {
	f.names[taskID] = name
}

// Consume prints every event until events is closed.
func (f *Formatter) Consume(events <-chan entity.Event) Summary {
	sum := Summary{Failures: make(map[string]error)}

	for ev := range events {
		f.Handle(ev)

		switch ev.Kind {
		case entity.EventTaskCompleted:
			sum.Completed++
			sum.Bytes += ev.BytesWritten
		case entity.EventTaskFailed:
			sum.Failed++
			sum.Failures[ev.TaskID] = ev.Err
		case entity.EventTaskCancelled:
			sum.Cancelled++
		}
	}

	return sum
}

// Handle prints one event. Progress is printed once per quarter of a file.
func (f *Formatter) Handle(ev entity.Event) {
	name := f.name(ev.TaskID)

	switch ev.Kind {
	case entity.EventTaskStarted:
		fmt.Fprintf(f.w, "%s %s\n", label(f.st.started, "start"), name)
	case entity.EventProgressUpdate:
		step := int(math.Floor(ev.Percentage/progressStep)) * progressStep
		if step <= f.bucket[ev.TaskID] || step >= 100 {
			return
		}
		f.bucket[ev.TaskID] = step

		fmt.Fprintf(f.w, "%s %s %3d%% %s/s\n", "  "+f.st.progress.Render("..."), name, step, util.HumanSize(int64(ev.Speed)))
	case entity.EventTaskCompleted:
		delete(f.bucket, ev.TaskID)
		fmt.Fprintf(f.w, "%s %s %s\n", label(f.st.done, "done"), name, f.st.dim.Render(fmt.Sprintf("(%s) %s", util.HumanSize(ev.BytesWritten), ev.OutputPath)))
	case entity.EventTaskFailed:
		delete(f.bucket, ev.TaskID)
		fmt.Fprintf(f.w, "%s %s: %v\n", label(f.st.failed, "fail"), name, ev.Err)
	case entity.EventTaskCancelled:
		delete(f.bucket, ev.TaskID)
		fmt.Fprintf(f.w, "%s %s\n", label(f.st.warning, "stop"), name)
	case entity.EventOverallProgressUpdate:
		fmt.Fprintf(f.w, "%s\n", f.st.dim.Render(fmt.Sprintf("[%d/%d]", ev.CompletedTasks, ev.TotalTasks)))
	}
}

func (f *Formatter) PrintSummary(sum Summary) {
	line := fmt.Sprintf("%d completed (%s), %d failed, %d cancelled", sum.Completed, util.HumanSize(sum.Bytes), sum.Failed, sum.Cancelled)

	style := f.st.done
	if !sum.OK() {
		style = f.st.failed
	}

	fmt.Fprintln(f.w, style.Render(line))
}

func (f *Formatter) PrintWarnings(warnings []selection.Warning) {
	for _, w := range warnings {
		fmt.Fprintf(f.w, "%s %s\n", label(f.st.warning, "warn"), w.String())
	}
}

func (f *Formatter) name(taskID string) string {
	if n, ok := f.names[taskID]; ok {
		return n
	}

	return taskID
}

func label(style lipgloss.Style, word string) string {
	return style.Render(word) + strings.Repeat(" ", max(labelWidth-len(word), 0))
}
