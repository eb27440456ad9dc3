package downloader

// Status is the lifecycle state of a download.
type Status int

const (
	StatusInit Status = iota
	StatusActive
	StatusWaiting
	StatusPaused
	StatusError
	StatusComplete
	StatusRemoved
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusComplete || s == StatusRemoved
}

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusActive:
		return "active"
	case StatusWaiting:
		return "waiting"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	case StatusComplete:
		return "complete"
	case StatusRemoved:
		return "removed"
	}

	return "unknown"
}
