package announcer

// Status of a tracker as seen by its announcer.
type Status int

// Tracker statuses.
const (
	NotContactedYet Status = iota
	Contacting
	Working
	NotWorking
)

var statusNames = [...]string{"not contacted yet", "contacting", "working", "not working"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Stats about a tracker.
type Stats struct {
	Status Status
	// Error of the last announce, nil if it succeeded.
	Error    *AnnounceError
	Seeders  int
	Leechers int
}
