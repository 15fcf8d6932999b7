package domain

// QueueStats is a point-in-time view of one command's queue.
type QueueStats struct {
	Command    Command `json:"command"`
	Ready      int64   `json:"ready"`
	InProgress int64   `json:"inProgress"`
	DLQ        int64   `json:"dlq"`
}

// Backlog counts jobs that still expect an outcome report.
func (s QueueStats) Backlog() int64 { return s.Ready + s.InProgress }
