package downloader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fetchd/fetchd/internal/fetch"
	"github.com/fetchd/fetchd/internal/fsx"
	"github.com/fetchd/fetchd/internal/logctx"
	"github.com/fetchd/fetchd/internal/storage"
	"github.com/fetchd/fetchd/internal/telemetry"
	"github.com/google/uuid"
)

const defaultSpeedSampleInterval = 100 * time.Millisecond

// Config carries the downloader-wide defaults. All of them can be changed at
// runtime through the corresponding setters.
type Config struct {
	// Dir is the default destination directory. Empty means the user's
	// Downloads directory.
	Dir string
	// MaxConcurrent caps how many downloads may be active at once.
	MaxConcurrent int
	// Headers are default request headers; per-download headers override
	// them key by key.
	Headers http.Header
	// Overwrite is the default collision policy.
	Overwrite Overwrite
	// SpeedSampleInterval throttles progress sampling.
	SpeedSampleInterval time.Duration
	// ResponseTimeout bounds the wait for the first response.
	ResponseTimeout time.Duration
	// DisableKeepAlives turns connection reuse off by default.
	DisableKeepAlives bool
}

// Option configures optional collaborators of the downloader.
type Option func(*Downloader)

// WithTelemetry attaches metric recording to the engine.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.tel = tel }
}

// WithHistory journals every terminal outcome to the repository.
func WithHistory(repo storage.HistoryRepository) Option {
	return func(d *Downloader) { d.history = repo }
}

// Downloader is the orchestrator: it owns the five lists, the identity
// index and the admission limit, decides ACTIVE vs WAITING, drives each
// active record through the resumable transfer protocol and multiplexes
// lifecycle events. All of its mutable state is guarded by a single lock;
// transfer goroutines only re-enter through that lock when they report
// progress or completion.
type Downloader struct {
	fs      fsx.FileSystem
	fetcher fetch.Fetcher
	tel     *telemetry.Telemetry
	history storage.HistoryRepository
	baseCtx context.Context

	mu                 sync.Mutex
	dir                string
	limit              int
	headers            http.Header
	overwrite          Overwrite
	sampleInterval     time.Duration
	responseTimeout    time.Duration
	disableKeepAlives  bool
	admissionSuspended bool

	active    *queue
	waiting   *queue
	paused    *queue
	completed *queue
	failed    *queue

	index map[string]*Download
	subs  map[*Subscription]struct{}
}

// New builds a downloader. ctx is the base context every transfer derives
// from; cancelling it aborts all in-flight transfers.
func New(ctx context.Context, fs fsx.FileSystem, fetcher fetch.Fetcher, cfg Config, opts ...Option) *Downloader {
	if cfg.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Dir = filepath.Join(home, "Downloads")
		} else {
			cfg.Dir = "."
		}
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	if cfg.Overwrite == OverwriteDefault {
		cfg.Overwrite = OverwriteFail
	}

	if cfg.SpeedSampleInterval <= 0 {
		cfg.SpeedSampleInterval = defaultSpeedSampleInterval
	}

	if cfg.Headers == nil {
		cfg.Headers = http.Header{}
	}

	d := &Downloader{
		fs:              fs,
		fetcher:         fetcher,
		baseCtx:         ctx,
		dir:             cfg.Dir,
		limit:           cfg.MaxConcurrent,
		headers:         cfg.Headers,
		overwrite:       cfg.Overwrite,
		sampleInterval:  cfg.SpeedSampleInterval,
		responseTimeout: cfg.ResponseTimeout,

		disableKeepAlives: cfg.DisableKeepAlives,

		active:    newQueue(),
		waiting:   newQueue(),
		paused:    newQueue(),
		completed: newQueue(),
		failed:    newQueue(),

		index: make(map[string]*Download),
		subs:  make(map[*Subscription]struct{}),
	}

	// A record leaving the active set frees headroom; admit the waiting
	// head right away unless a batch operation suspended admission.
	d.active.onRemove = func(*Download) {
		d.tel.DecrementActiveDownloads()
		d.admitLocked()
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// AddOptions are the per-download overrides accepted by Add.
type AddOptions struct {
	// Dir overrides the default destination directory.
	Dir string
	// Out is the requested file name; empty derives it from the URL.
	Out string
	// Headers override the downloader defaults key by key.
	Headers http.Header
	// Overwrite overrides the default collision policy.
	Overwrite Overwrite
	// DisableKeepAlives overrides the default connection-reuse setting.
	DisableKeepAlives *bool
}

// Add registers a download and schedules it: ACTIVE when headroom exists,
// WAITING otherwise. The returned record is the caller's handle for await,
// abort and status queries.
func (d *Downloader) Add(rawURL string, opts AddOptions) (*Download, error) {
	if rawURL == "" {
		return nil, ErrEmptyURL
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := opts.Dir
	if dir == "" {
		dir = d.dir
	}

	out := opts.Out
	if out == "" {
		out = fileNameFromURL(rawURL)
	}

	overwrite := opts.Overwrite
	if overwrite == OverwriteDefault {
		overwrite = d.overwrite
	}

	disableKeepAlives := d.disableKeepAlives
	if opts.DisableKeepAlives != nil {
		disableKeepAlives = *opts.DisableKeepAlives
	}

	dl := &Download{
		id:                uuid.NewString(),
		url:               rawURL,
		dir:               dir,
		out:               out,
		status:            StatusInit,
		overwrite:         overwrite,
		headers:           mergeHeaders(d.headers, opts.Headers),
		disableKeepAlives: disableKeepAlives,
		done:              make(chan struct{}),
	}

	dl.originPath = filepath.Join(dir, out)
	dl.path = dl.originPath

	d.index[dl.id] = dl

	// Collision policy, first pass: against tracked destination paths.
	// The registration step is serialized under the orchestrator lock, so
	// two records can never pick the same free name.
	switch overwrite {
	case OverwriteRename:
		d.assignFreePathLocked(dl)
	case OverwriteFail:
		if d.pathTrackedLocked(dl) {
			d.emitLocked(EventQueue, dl, nil)
			d.terminalLocked(dl, newError(dl, CodeFileExists, ""))
			d.tel.RecordDownload("error", 0, 0)

			return dl, nil
		}
	}

	d.emitLocked(EventQueue, dl, nil)

	if d.active.len() < d.limit {
		d.activateLocked(dl)
	} else {
		dl.mu.Lock()
		dl.status = StatusWaiting
		dl.mu.Unlock()
		d.waiting.pushBack(dl)
	}

	return dl, nil
}

// Pause moves a download to PAUSED, cancelling its fetch when active.
// Partial data is never deleted. Pausing an already paused download is a
// no-op.
func (d *Downloader) Pause(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl, ok := d.index[id]
	if !ok {
		return ErrUnknownID
	}

	return d.pauseLocked(dl)
}

// PauseAll pauses every active and waiting download. Admission is suspended
// for the duration so pausing an active record does not backfill from the
// waiting queue.
func (d *Downloader) PauseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.admissionSuspended = true

	for _, dl := range d.active.records() {
		_ = d.pauseLocked(dl)
	}

	for _, dl := range d.waiting.records() {
		_ = d.pauseLocked(dl)
	}

	d.admissionSuspended = false
	d.admitLocked()
}

// Unpause puts a paused download back through the admission rule. It fails
// synchronously when the download is not paused.
func (d *Downloader) Unpause(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl, ok := d.index[id]
	if !ok {
		return ErrUnknownID
	}

	return d.unpauseLocked(dl)
}

// UnpauseAll unpauses every paused download in pause order.
func (d *Downloader) UnpauseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, dl := range d.paused.records() {
		_ = d.unpauseLocked(dl)
	}
}

// Remove cancels the download if needed, marks it REMOVED and evicts it from
// the identity index. With deleteFiles it also deletes the partial and final
// files. Removing an unknown (or already removed) id is a no-op.
func (d *Downloader) Remove(id string, deleteFiles bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl, ok := d.index[id]
	if !ok {
		return nil
	}

	d.removeLocked(dl, deleteFiles)

	return nil
}

// RemoveAll removes every tracked download, terminal ones included.
func (d *Downloader) RemoveAll(deleteFiles bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.admissionSuspended = true

	for _, dl := range d.index {
		d.removeLocked(dl, deleteFiles)
	}

	d.admissionSuspended = false
	d.admitLocked()
}

// SetConcurrency changes the active-count limit. Raising it immediately
// admits waiting downloads in FIFO order. Lowering it below the current
// active count is rejected; already active transfers are never demoted.
func (d *Downloader) SetConcurrency(n int) error {
	if n < 1 {
		return ErrInvalidLimit
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if n < d.active.len() {
		return fmt.Errorf("%w: limit %d, active %d", ErrLimitTooLow, n, d.active.len())
	}

	d.limit = n
	d.admitLocked()

	return nil
}

// Concurrency returns the current active-count limit.
func (d *Downloader) Concurrency() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.limit
}

// SetDirectory changes the default destination directory for new downloads.
func (d *Downloader) SetDirectory(dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dir = dir
}

// SetDefaultHeaders replaces the downloader-wide default request headers.
func (d *Downloader) SetDefaultHeaders(h http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h == nil {
		h = http.Header{}
	}

	d.headers = h
}

// SetOverwrite changes the default collision policy for new downloads.
func (d *Downloader) SetOverwrite(o Overwrite) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if o == OverwriteDefault {
		o = OverwriteFail
	}

	d.overwrite = o
}

// SetSpeedSampleInterval changes the progress sampling interval.
func (d *Downloader) SetSpeedSampleInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if interval <= 0 {
		interval = defaultSpeedSampleInterval
	}

	d.sampleInterval = interval
}

func (d *Downloader) TellActive() []*Download    { return d.tell(d.active) }
func (d *Downloader) TellWaiting() []*Download   { return d.tell(d.waiting) }
func (d *Downloader) TellPaused() []*Download    { return d.tell(d.paused) }
func (d *Downloader) TellCompleted() []*Download { return d.tell(d.completed) }
func (d *Downloader) TellFailed() []*Download    { return d.tell(d.failed) }

// TellStopped lists all terminal records: completed first, then failed.
func (d *Downloader) TellStopped() []*Download {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append(d.completed.records(), d.failed.records()...)
}

func (d *Downloader) CountActive() int    { return d.count(d.active) }
func (d *Downloader) CountWaiting() int   { return d.count(d.waiting) }
func (d *Downloader) CountPaused() int    { return d.count(d.paused) }
func (d *Downloader) CountCompleted() int { return d.count(d.completed) }
func (d *Downloader) CountFailed() int    { return d.count(d.failed) }

func (d *Downloader) tell(q *queue) []*Download {
	d.mu.Lock()
	defer d.mu.Unlock()

	return q.records()
}

func (d *Downloader) count(q *queue) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return q.len()
}

// TellStatus looks a download up by id.
func (d *Downloader) TellStatus(id string) (*Download, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl, ok := d.index[id]

	return dl, ok
}

// AwaitStopped blocks until the download reaches a terminal state. It
// returns the record and nil on COMPLETE, or the record and its error on
// ERROR/REMOVED.
func (d *Downloader) AwaitStopped(ctx context.Context, id string) (*Download, error) {
	dl, ok := d.TellStatus(id)
	if !ok {
		return nil, ErrUnknownID
	}

	return dl, dl.AwaitTerminal(ctx)
}

// TrackedPartial reports whether path is the partial file of a live
// (non-terminal) record. The cleanup sweep uses it to spare partials that a
// paused download still intends to resume.
func (d *Downloader) TrackedPartial(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, dl := range d.index {
		dl.mu.Lock()
		live := !dl.status.Terminal() && dl.path+".tmp" == path
		dl.mu.Unlock()

		if live {
			return true
		}
	}

	return false
}

// admitLocked fills available headroom from the waiting queue, FIFO.
func (d *Downloader) admitLocked() {
	if d.admissionSuspended {
		return
	}

	for d.active.len() < d.limit {
		dl := d.waiting.popFront()
		if dl == nil {
			return
		}

		d.activateLocked(dl)
	}
}

func (d *Downloader) activateLocked(dl *Download) {
	ctx, cancel := context.WithCancel(d.baseCtx)

	dl.mu.Lock()
	dl.status = StatusActive
	dl.cancel = cancel
	dl.attempt++
	attempt := dl.attempt
	dl.mu.Unlock()

	d.active.pushBack(dl)
	d.tel.IncrementActiveDownloads()
	d.emitLocked(EventActivate, dl, nil)

	go d.run(ctx, dl, attempt)
}

func (d *Downloader) pauseLocked(dl *Download) error {
	dl.mu.Lock()
	status := dl.status
	cancel := dl.cancel

	switch status {
	case StatusPaused:
		dl.mu.Unlock()

		return nil
	case StatusActive, StatusWaiting:
		dl.status = StatusPaused
		dl.cancel = nil
	default:
		dl.mu.Unlock()

		return fmt.Errorf("cannot pause download in status %s", status)
	}
	dl.mu.Unlock()

	if status == StatusActive {
		d.active.remove(dl)
	} else {
		d.waiting.remove(dl)
	}

	d.paused.pushBack(dl)

	if cancel != nil {
		cancel()
	}

	d.emitLocked(EventPause, dl, nil)

	return nil
}

func (d *Downloader) unpauseLocked(dl *Download) error {
	dl.mu.Lock()
	if dl.status != StatusPaused {
		dl.mu.Unlock()

		return ErrNotPaused
	}
	dl.mu.Unlock()

	d.paused.remove(dl)
	d.emitLocked(EventUnpause, dl, nil)

	// Same admission rule as Add.
	if d.active.len() < d.limit && !d.admissionSuspended {
		d.activateLocked(dl)
	} else {
		dl.mu.Lock()
		dl.status = StatusWaiting
		dl.mu.Unlock()
		d.waiting.pushBack(dl)
	}

	return nil
}

func (d *Downloader) removeLocked(dl *Download, deleteFiles bool) {
	removalErr := newError(dl, CodeAborted, "")

	dl.mu.Lock()
	status := dl.status
	cancel := dl.cancel
	dl.cancel = nil
	terminal := status.Terminal()

	if !terminal {
		dl.status = StatusRemoved
		dl.err = removalErr
		close(dl.done)
	}
	dl.mu.Unlock()

	switch status {
	case StatusActive:
		d.active.remove(dl)
	case StatusWaiting:
		d.waiting.remove(dl)
	case StatusPaused:
		d.paused.remove(dl)
	case StatusComplete:
		d.completed.remove(dl)
	case StatusError:
		d.failed.remove(dl)
	}

	delete(d.index, dl.id)

	if cancel != nil {
		cancel()
	}

	if deleteFiles {
		path := dl.Path()
		if d.fs.Exists(path + ".tmp") {
			_ = d.fs.Remove(path + ".tmp")
		}

		if d.fs.Exists(path) {
			_ = d.fs.Remove(path)
		}
	}

	d.emitLocked(EventRemove, dl, nil)

	if !terminal {
		d.emitLocked(EventDone, dl, removalErr)
		d.recordHistoryLocked(dl)
		d.tel.RecordDownload("removed", 0, dl.CompletedLength())
	}
}

// terminalLocked applies a COMPLETE or ERROR transition. It is
// idempotent-guarded: a record that already reached a terminal state is left
// untouched.
func (d *Downloader) terminalLocked(dl *Download, ferr *Error) {
	dl.mu.Lock()
	if dl.status.Terminal() {
		dl.mu.Unlock()

		return
	}

	dl.cancel = nil
	dl.speed = 0

	if ferr == nil {
		dl.status = StatusComplete
	} else {
		dl.status = StatusError
		dl.err = ferr
	}

	close(dl.done)
	dl.mu.Unlock()

	if ferr == nil {
		d.completed.pushBack(dl)
		d.emitLocked(EventComplete, dl, nil)
	} else {
		d.failed.pushBack(dl)
		d.emitLocked(EventFail, dl, ferr)
	}

	d.emitLocked(EventDone, dl, ferr)
	d.recordHistoryLocked(dl)
}

func (d *Downloader) recordHistoryLocked(dl *Download) {
	if d.history == nil {
		return
	}

	snap := dl.Snapshot()

	rec := storage.Record{
		ID:           snap.ID,
		URL:          snap.URL,
		Path:         snap.Path,
		Status:       snap.Status,
		ErrorCode:    int(snap.ErrorCode),
		ErrorMessage: snap.ErrorMessage,
		FinishedAt:   time.Now(),
	}

	if err := d.history.Append(rec); err != nil {
		logctx.LoggerFromContext(d.baseCtx).Error("failed to journal download outcome", "download_id", snap.ID, "err", err)
	}
}

// pathTrackedLocked reports whether another tracked record already claims
// dl's destination path.
func (d *Downloader) pathTrackedLocked(dl *Download) bool {
	path := dl.Path()

	for _, other := range d.index {
		if other == dl {
			continue
		}

		if other.Path() == path {
			return true
		}
	}

	return false
}

// assignFreePathLocked walks " (n)" suffixes until the destination collides
// with neither a tracked record nor the filesystem.
func (d *Downloader) assignFreePathLocked(dl *Download) {
	dl.mu.Lock()
	origin := dl.originPath
	dl.mu.Unlock()

	ext := filepath.Ext(origin)
	stem := strings.TrimSuffix(origin, ext)

	path := origin
	n := 0

	for {
		dl.mu.Lock()
		dl.path = path
		dl.mu.Unlock()

		if !d.pathTrackedLocked(dl) && !d.fs.Exists(path) {
			break
		}

		n++
		path = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}

	dl.mu.Lock()
	dl.path = path
	dl.renameCount = n
	dl.mu.Unlock()
}

func mergeHeaders(defaults, overrides http.Header) http.Header {
	merged := defaults.Clone()
	if merged == nil {
		merged = http.Header{}
	}

	for key, values := range overrides {
		merged.Del(key)

		for _, value := range values {
			merged.Add(key, value)
		}
	}

	return merged
}

// fileNameFromURL derives a destination file name from the URL path.
func fileNameFromURL(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}

	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}

	name := filepath.Base(strings.TrimRight(trimmed, "/"))
	if name == "" || name == "." || name == "/" {
		return "download"
	}

	return name
}
