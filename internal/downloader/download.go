package downloader

import (
	"container/list"
	"context"
	"net/http"
	"sync"
)

// Overwrite is the collision policy applied when a destination path is
// already taken, either by another tracked download or on disk.
type Overwrite int

const (
	// OverwriteDefault defers to the downloader-wide policy.
	OverwriteDefault Overwrite = iota
	// OverwriteFail fails the download with CodeFileExists.
	OverwriteFail
	// OverwriteReplace deletes the existing file before writing.
	OverwriteReplace
	// OverwriteRename picks a free name by appending " (n)" before the extension.
	OverwriteRename
)

func (o Overwrite) String() string {
	switch o {
	case OverwriteFail:
		return "fail"
	case OverwriteReplace:
		return "replace"
	case OverwriteRename:
		return "rename"
	}

	return "default"
}

// Download is the in-memory record for one requested download. The
// orchestrator owns its lifecycle; external callers only observe it through
// the read accessors, Abort and AwaitTerminal.
type Download struct {
	id  string
	url string
	dir string
	out string

	mu                sync.Mutex
	status            Status
	originPath        string
	path              string
	renameCount       int
	totalLength       int64
	completedLength   int64
	speed             int64
	overwrite         Overwrite
	headers           http.Header
	disableKeepAlives bool
	err               *Error

	// cancel aborts the in-flight fetch. Present only while ACTIVE.
	cancel context.CancelFunc
	// attempt distinguishes activations so a stale transfer goroutine
	// cannot finish a record that was paused and re-admitted meanwhile.
	attempt uint64

	// queue membership token, mutated only under the orchestrator lock.
	elem  *list.Element
	owner *queue

	// done is closed exactly once, on the terminal transition.
	done chan struct{}
}

func (d *Download) ID() string  { return d.id }
func (d *Download) URL() string { return d.url }
func (d *Download) Dir() string { return d.dir }
func (d *Download) Out() string { return d.out }

func (d *Download) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.status
}

// Path is the current, possibly renamed, destination path.
func (d *Download) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.path
}

// OriginPath is the destination path computed before any collision renaming.
func (d *Download) OriginPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.originPath
}

func (d *Download) RenameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.renameCount
}

func (d *Download) TotalLength() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.totalLength
}

func (d *Download) CompletedLength() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.completedLength
}

// Speed is the most recent smoothed transfer rate in bytes per second.
func (d *Download) Speed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.speed
}

// Err is the terminal error, or nil while the download has not failed.
func (d *Download) Err() *Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.err
}

// Headers returns a copy of the merged request headers.
func (d *Download) Headers() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.headers.Clone()
}

// Abort requests cancellation of the in-flight fetch. It is idempotent,
// returns immediately and is a no-op when the download is not active. The
// record reaches a terminal or paused state only once the transport reports
// closure.
func (d *Download) Abort() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// AwaitTerminal blocks until the download reaches a terminal state or ctx is
// done. It returns nil on COMPLETE, the record's error on ERROR or REMOVED,
// and resolves immediately when the record is already terminal. Any number of
// concurrent waiters may call it; each is notified exactly once.
func (d *Download) AwaitTerminal(ctx context.Context) error {
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusComplete {
		return nil
	}

	return d.err
}

// Snapshot is a point-in-time, JSON-friendly view of a download record.
type Snapshot struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Dir             string    `json:"dir"`
	Out             string    `json:"out"`
	Path            string    `json:"path"`
	OriginPath      string    `json:"origin_path"`
	Status          string    `json:"status"`
	TotalLength     int64     `json:"total_length"`
	CompletedLength int64     `json:"completed_length"`
	Speed           int64     `json:"download_speed"`
	RenameCount     int       `json:"rename_count"`
	ErrorCode       ErrorCode `json:"error_code"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

func (d *Download) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		ID:              d.id,
		URL:             d.url,
		Dir:             d.dir,
		Out:             d.out,
		Path:            d.path,
		OriginPath:      d.originPath,
		Status:          d.status.String(),
		TotalLength:     d.totalLength,
		CompletedLength: d.completedLength,
		Speed:           d.speed,
		RenameCount:     d.renameCount,
	}

	if d.err != nil {
		s.ErrorCode = d.err.Code
		s.ErrorMessage = d.err.Message
	}

	return s
}
