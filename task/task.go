// Package task defines the lifecycle shared by all download tasks.
package task

import "context"

// State of a task.
type State int

// Task states.
const (
	Stopped State = iota
	Opening
	Downloading
	Seeding
	Paused
	Completed
	Failed
)

var stateNames = [...]string{"stopped", "opening", "downloading", "seeding", "paused", "completed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Status is a snapshot of a task.
type Status struct {
	State State
	Name  string
	// Number of connected peers.
	Peers int
	// Speeds in bytes/s.
	DownloadSpeed  int
	UploadSpeed    int
	BytesTotal     int64
	BytesCompleted int64
	// Completed is the percentage of verified bytes in range [0, 100].
	Completed float64
	Error     error
}

// Task is a download that can be opened, run, paused and released.
type Task interface {
	ID() string
	// Open prepares the task for downloading. It may be called more than once.
	Open() error
	// Download runs until the task is complete, paused, failed or ctx is done.
	Download(ctx context.Context) error
	// Pause stops transfers. Download may be called again later.
	Pause()
	// Release frees all resources of the task. It is idempotent.
	Release()
	Status() Status
}
