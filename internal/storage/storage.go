package storage

import "time"

// Record is one terminal download outcome in the history journal. The
// journal is an audit log; live queue state stays in memory and is lost on
// restart.
type Record struct {
	ID           string
	URL          string
	Path         string
	Status       string
	ErrorCode    int
	ErrorMessage string
	FinishedAt   time.Time
}

// HistoryRepository persists terminal download outcomes.
type HistoryRepository interface {
	Append(rec Record) error
	List(limit int) ([]Record, error)
}
