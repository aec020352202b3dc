package torrent

import "errors"

var (
	// ErrPaused is returned from Download when the task is paused before it completes.
	ErrPaused = errors.New("task paused")
	// ErrReleased is returned by the methods of a released task.
	ErrReleased = errors.New("task released")
	// ErrNotOpen is returned from Download when Open has not been called.
	ErrNotOpen = errors.New("task is not open")
	// ErrNoMetadata is returned for magnet links of torrents whose info dictionary is not in the database.
	ErrNoMetadata = errors.New("torrent metadata is not available")
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSessionClosed is returned after the session is closed.
	ErrSessionClosed = errors.New("session closed")

	errClosed = errors.New("torrent is closed")
)
