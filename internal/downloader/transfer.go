package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fetchd/fetchd/internal/downloader/progress"
	"github.com/fetchd/fetchd/internal/fetch"
	"github.com/fetchd/fetchd/internal/logctx"
)

// partialSuffix marks the file accumulating bytes before the atomic
// finalize.
const partialSuffix = ".tmp"

func (d *Downloader) run(ctx context.Context, dl *Download, attempt uint64) {
	start := time.Now()
	ferr := d.transfer(ctx, dl)
	d.finish(dl, attempt, ferr, time.Since(start))
}

// finish reports a transfer outcome back to the orchestrator. A stale
// outcome (the record was paused or removed while the goroutine was winding
// down) is discarded: whoever moved the record owns it now.
func (d *Downloader) finish(dl *Download, attempt uint64, ferr *Error, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl.mu.Lock()
	stale := dl.attempt != attempt || dl.status != StatusActive
	dl.mu.Unlock()

	if stale {
		return
	}

	d.active.remove(dl)
	d.terminalLocked(dl, ferr)

	status := "complete"
	if ferr != nil {
		status = "error"
	}

	d.tel.RecordDownload(status, elapsed, dl.CompletedLength())
}

// transfer drives one activation through the resumable download protocol:
// prepare the destination, probe for a partial, fetch with a byte-range
// continuation, stream into the partial and atomically rename it into place.
// It returns nil on success and the mapped taxonomy error otherwise.
func (d *Downloader) transfer(ctx context.Context, dl *Download) *Error {
	logger := logctx.LoggerFromContext(d.baseCtx).With("download_id", dl.id, "url", dl.url)

	if ferr := d.prepareDestination(dl); ferr != nil {
		return ferr
	}

	path := dl.Path()
	partial := path + partialSuffix

	var prior int64
	if size, err := d.fs.Size(partial); err == nil {
		prior = size
	}

	headers := dl.Headers()
	if prior > 0 {
		headers.Set("Range", fmt.Sprintf("bytes=%d-", prior))
		logger.Info("resuming partial download", "partial_bytes", prior)
	}

	dl.mu.Lock()
	dl.completedLength = prior
	disableKeepAlives := dl.disableKeepAlives
	dl.mu.Unlock()

	d.mu.Lock()
	responseTimeout := d.responseTimeout
	sampleInterval := d.sampleInterval
	d.mu.Unlock()

	res, err := d.fetcher.Fetch(ctx, dl.url, fetch.Options{
		Headers:           headers,
		ResponseTimeout:   responseTimeout,
		DisableKeepAlives: disableKeepAlives,
	})
	if err != nil {
		return mapFetchError(ctx, dl, err)
	}

	defer res.Body.Close()

	// A missing content length counts as zero: the total is then just the
	// prior bytes until the stream tells us otherwise.
	declared := res.ContentLength >= 0
	total := prior
	if declared {
		total += res.ContentLength
	}

	dl.mu.Lock()
	dl.totalLength = total
	dl.mu.Unlock()

	out, err := d.fs.OpenAppend(partial)
	if err != nil {
		return newError(dl, CodeCreateFileFailed, err.Error())
	}

	logger.Info("downloading", "path", path, "total", humanize.Bytes(uint64(total)))

	reader := progress.NewReader(res.Body, sampleInterval, func(read, speed int64) {
		d.observeProgress(dl, prior+read, speed)
	})

	sink := &errTrackingWriter{w: out}
	_, copyErr := io.Copy(sink, reader)
	closeErr := out.Close()

	if copyErr != nil {
		// The partial is preserved on every failure path so a later
		// resume can continue from it.
		if ctx.Err() != nil {
			return newError(dl, CodeAborted, "")
		}

		if sink.err != nil {
			return newError(dl, CodeFileIO, sink.err.Error())
		}

		return newError(dl, CodeNetwork, copyErr.Error())
	}

	if closeErr != nil {
		return newError(dl, CodeFileIO, closeErr.Error())
	}

	final, err := d.fs.Size(partial)
	if err != nil {
		return newError(dl, CodeFileIO, err.Error())
	}

	if final == 0 {
		_ = d.fs.Remove(partial)

		return newError(dl, CodeUnknown, "downloaded file is empty")
	}

	if declared && final != total {
		return newError(dl, CodeNetwork,
			fmt.Sprintf("truncated transfer: got %s of %s", humanize.Bytes(uint64(final)), humanize.Bytes(uint64(total))))
	}

	if err := d.fs.Rename(partial, path); err != nil {
		return newError(dl, CodeRenameFailed, err.Error())
	}

	logger.Info("download complete", "path", path, "size", humanize.Bytes(uint64(final)))

	return nil
}

// prepareDestination runs the activation-time half of the collision policy.
// The destination is re-checked against the filesystem because another
// record or an external actor may have created it between registration and
// admission.
func (d *Downloader) prepareDestination(dl *Download) *Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fs.MkdirAll(dl.Dir()); err != nil {
		return newError(dl, CodeMkdirFailed, err.Error())
	}

	switch dl.overwrite {
	case OverwriteFail:
		if d.fs.Exists(dl.Path()) {
			return newError(dl, CodeFileExists, "")
		}
	case OverwriteReplace:
		if d.fs.Exists(dl.Path()) {
			if err := d.fs.Remove(dl.Path()); err != nil {
				return newError(dl, CodeFileIO, err.Error())
			}
		}
	case OverwriteRename:
		d.assignFreePathLocked(dl)
	}

	return nil
}

func (d *Downloader) observeProgress(dl *Download, completed, speed int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl.mu.Lock()
	dl.completedLength = completed
	dl.speed = speed
	dl.mu.Unlock()

	if d.hasObserverLocked(dl) {
		d.emitLocked(EventProgress, dl, nil)
	}
}

// mapFetchError translates a transport failure to the closest taxonomy code.
func mapFetchError(ctx context.Context, dl *Download, err error) *Error {
	switch {
	case errors.Is(err, fetch.ErrResponseTimeout):
		return newError(dl, CodeTimeout, "")
	case errors.Is(err, fetch.ErrTooManyRedirects):
		return newError(dl, CodeTooManyRedirects, "")
	}

	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusForbidden:
			return newError(dl, CodeAuthFailed, "")
		case http.StatusNotFound:
			return newError(dl, CodeNotFound, "")
		}

		return newError(dl, CodeNetwork, statusErr.Error())
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return newError(dl, CodeAborted, "")
	}

	return newError(dl, CodeNetwork, err.Error())
}

// errTrackingWriter remembers whether a copy failure came from the write
// side, so disk errors map to CodeFileIO instead of CodeNetwork.
type errTrackingWriter struct {
	w   io.Writer
	err error
}

func (t *errTrackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}

	return n, err
}
