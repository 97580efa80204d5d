package entity

import "time"

type TaskState string

const (
	TaskStateQueued     TaskState = "queued"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
	TaskStateCancelled  TaskState = "cancelled"
)

func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCancelled
}

// DownloadTask is a single file transfer. TaskID is meeting uuid + "-" + stable id.
type DownloadTask struct {
	TaskID          string
	SourceURL       string
	Filename        string
	DestinationPath string
	ExpectedSize    int64 // 0 when unknown
	State           TaskState
	Attempts        int
	BytesWritten    int64
	Err             error
}

// RateLimitState is owned and mutated by the request executor only.
type RateLimitState struct {
	LastRequestAt  time.Time
	RemainingQuota int // -1 when the provider did not report it
}
