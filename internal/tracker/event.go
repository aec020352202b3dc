package tracker

// Event of an announce request. Values match the UDP tracker protocol.
type Event int32

// Announce events.
const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
)

// String returns the name of the event in the HTTP tracker protocol.
func (e Event) String() string {
	switch e {
	case EventCompleted:
		return "completed"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	default:
		return "empty"
	}
}
