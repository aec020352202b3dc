package torrent

import (
	"context"
	"errors"
)

// Event is the type of a Notification.
type Event int

// Notification events.
const (
	// Completed is sent when all pieces of a task are downloaded.
	Completed Event = iota
	// Failed is sent when a task is stopped by an error.
	Failed
)

func (e Event) String() string {
	switch e {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notification about a task of the session.
type Notification struct {
	Event  Event
	TaskID string
	Name   string
	Error  error
}

type runningTask struct {
	cancel context.CancelFunc
}

// Notifications returns the channel for completion and failure notifications.
// Completions are sent only if NotifyOnComplete is set in Config.
// Notifications are dropped if the channel is not read.
func (s *Session) Notifications() <-chan Notification {
	return s.notifications
}

func (s *Session) notify(n Notification) {
	select {
	case s.notifications <- n:
	default:
		s.log.Debugf("notification dropped: %s %s", n.Event, n.Name)
	}
}

// notifyComplete is called from the run loop of t.
func (s *Session) notifyComplete(t *torrent) {
	if !s.config.NotifyOnComplete {
		return
	}
	s.notify(Notification{Event: Completed, TaskID: t.id, Name: t.name})
}

// Start queues the torrent for downloading. At most MaxConcurrentTasks torrents are
// downloading at the same time. Starting a queued or downloading torrent does nothing.
func (s *Session) Start(id string) error {
	if s.closed() {
		return ErrSessionClosed
	}
	t, err := s.Task(id)
	if err != nil {
		return err
	}
	s.mQueue.Lock()
	if _, ok := s.running[id]; ok {
		s.mQueue.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt := &runningTask{cancel: cancel}
	s.running[id] = rt
	s.wg.Add(1)
	s.mQueue.Unlock()

	if err = s.resumer.WriteStarted(id, true); err != nil {
		s.log.Errorln("cannot write started flag:", err)
	}
	go s.runTask(ctx, t, rt)
	return nil
}

// Pause stops the torrent or removes it from the queue.
func (s *Session) Pause(id string) error {
	t, err := s.Task(id)
	if err != nil {
		return err
	}
	s.cancelTask(id)
	t.Pause()
	if err = s.resumer.WriteStarted(id, false); err != nil {
		s.log.Errorln("cannot write started flag:", err)
	}
	return nil
}

func (s *Session) cancelTask(id string) {
	s.mQueue.Lock()
	defer s.mQueue.Unlock()
	if rt, ok := s.running[id]; ok {
		rt.cancel()
		delete(s.running, id)
	}
}

func (s *Session) runTask(ctx context.Context, t *Torrent, rt *runningTask) {
	defer s.wg.Done()
	defer func() {
		rt.cancel()
		s.mQueue.Lock()
		if s.running[t.ID()] == rt {
			delete(s.running, t.ID())
		}
		s.mQueue.Unlock()
	}()

	if err := s.queue.Acquire(ctx); err != nil {
		return
	}
	defer s.queue.Release()

	err := t.Open()
	if err == nil {
		err = t.Download(ctx)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrPaused), errors.Is(err, ErrReleased), errors.Is(err, context.Canceled):
		t.t.log.Debugln("download ended:", err)
	default:
		t.t.log.Errorln("download failed:", err)
		s.notify(Notification{Event: Failed, TaskID: t.ID(), Name: t.Name(), Error: err})
	}
}
