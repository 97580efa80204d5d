package entity

type EventKind int

const (
	EventTaskStarted EventKind = iota
	EventProgressUpdate
	EventTaskCompleted
	EventTaskFailed
	EventTaskCancelled
	EventOverallProgressUpdate
)

func (k EventKind) String() string {
	return [...]string{"TaskStarted", "ProgressUpdate", "TaskCompleted", "TaskFailed", "TaskCancelled", "OverallProgressUpdate"}[k]
}

// Event is emitted by the download orchestrator. Only the fields relevant to Kind are set.
type Event struct {
	Kind           EventKind
	TaskID         string
	Percentage     float64 // 0..100, 0 when the expected size is unknown
	Speed          float64 // bytes per second
	BytesWritten   int64
	OutputPath     string
	Err            error
	CompletedTasks int
	TotalTasks     int
}

func (e Event) Terminal() bool {
	return e.Kind == EventTaskCompleted || e.Kind == EventTaskFailed || e.Kind == EventTaskCancelled
}
