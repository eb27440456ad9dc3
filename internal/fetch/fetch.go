// Package fetch provides the streaming HTTP capability the download engine
// consumes. The engine never touches net/http directly; it sees a Fetcher
// returning a status, a declared content length and a body stream.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// maxRedirects is the redirect ceiling before the fetch fails.
	maxRedirects = 10
	// DefaultResponseTimeout bounds the wait for the first response bytes.
	DefaultResponseTimeout = 10 * time.Second
)

var (
	ErrTooManyRedirects = errors.New("stopped after too many redirects")
	ErrResponseTimeout  = errors.New("timed out waiting for the server response")
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status: %s", e.Status)
}

// Options configure a single fetch.
type Options struct {
	Headers http.Header
	// ResponseTimeout bounds the wait until the response headers arrive.
	// Zero means DefaultResponseTimeout. It does not bound the body read.
	ResponseTimeout time.Duration
	// DisableKeepAlives turns connection reuse off for this fetch.
	DisableKeepAlives bool
}

// Response is one streaming fetch in flight. The caller owns Body and must
// close it.
type Response struct {
	StatusCode int
	// ContentLength is the declared length, or -1 when the server did not
	// declare one.
	ContentLength int64
	Header        http.Header
	Body          io.ReadCloser
}

// Fetcher opens streaming GETs. Cancelling ctx aborts the request and any
// in-progress body read.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*Response, error)
}
