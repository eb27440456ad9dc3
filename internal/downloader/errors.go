package downloader

import (
	"errors"
	"fmt"
)

// Usage errors are reported synchronously at the call site, as opposed to
// transfer failures which only surface through the record's terminal error.
var (
	ErrUnknownID    = errors.New("unknown download id")
	ErrNotPaused    = errors.New("download is not paused")
	ErrLimitTooLow  = errors.New("concurrency limit below current active count")
	ErrInvalidLimit = errors.New("concurrency limit must be at least 1")
	ErrEmptyURL     = errors.New("download url must not be empty")
)

// ErrorCode classifies a terminal download failure. The set is closed and the
// numeric values are part of the external surface.
type ErrorCode int

const (
	CodeOK               ErrorCode = 0
	CodeUnknown          ErrorCode = 1
	CodeTimeout          ErrorCode = 2
	CodeNotFound         ErrorCode = 3
	CodeNetwork          ErrorCode = 6
	CodeFileExists       ErrorCode = 13
	CodeRenameFailed     ErrorCode = 14
	CodeCreateFileFailed ErrorCode = 16
	CodeFileIO           ErrorCode = 17
	CodeMkdirFailed      ErrorCode = 18
	CodeTooManyRedirects ErrorCode = 23
	CodeAuthFailed       ErrorCode = 24
	CodeAborted          ErrorCode = 31
)

// Message returns the canonical human message for the code.
func (c ErrorCode) Message() string {
	switch c {
	case CodeOK:
		return "success"
	case CodeTimeout:
		return "timed out waiting for the server response"
	case CodeNotFound:
		return "resource was not found"
	case CodeNetwork:
		return "network error"
	case CodeFileExists:
		return "destination file already exists"
	case CodeRenameFailed:
		return "failed to rename the partial file into place"
	case CodeCreateFileFailed:
		return "failed to create the destination file"
	case CodeFileIO:
		return "file i/o error"
	case CodeMkdirFailed:
		return "failed to create the destination directory"
	case CodeTooManyRedirects:
		return "too many redirects"
	case CodeAuthFailed:
		return "authorization failed"
	case CodeAborted:
		return "download was aborted"
	}

	return "unknown error"
}

// Error is the terminal failure attached to a download record.
// Immutable once constructed; CodeOK never appears on one.
type Error struct {
	ID      string
	URL     string
	Path    string
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s failed with code %d: %s", e.ID, e.Code, e.Message)
}

// newError builds an Error for d, falling back to the code's canonical
// message when no specific cause is known.
func newError(d *Download, code ErrorCode, message string) *Error {
	if message == "" {
		message = code.Message()
	}

	return &Error{
		ID:      d.id,
		URL:     d.url,
		Path:    d.Path(),
		Code:    code,
		Message: message,
	}
}
