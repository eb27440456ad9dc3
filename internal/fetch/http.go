package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPFetcher is the net/http backed Fetcher. It keeps two clients so
// keep-alive can be toggled per download without rebuilding transports.
type HTTPFetcher struct {
	client            *http.Client
	noKeepAliveClient *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	noKeepAlive := transport.Clone()
	noKeepAlive.DisableKeepAlives = true

	return &HTTPFetcher{
		client: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirect,
		},
		noKeepAliveClient: &http.Client{
			Transport:     noKeepAlive,
			CheckRedirect: checkRedirect,
		},
	}
}

func checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return ErrTooManyRedirects
	}

	return nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, opts Options) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()

		return nil, err
	}

	for key, values := range opts.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	responseTimeout := opts.ResponseTimeout
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}

	// The timeout covers only the wait for response headers. The body
	// stream afterwards is unbounded; large downloads take as long as
	// they take.
	var timedOut atomic.Bool

	timer := time.AfterFunc(responseTimeout, func() {
		timedOut.Store(true)
		cancel()
	})

	client := f.client
	if opts.DisableKeepAlives {
		client = f.noKeepAliveClient
	}

	res, err := client.Do(req)

	timer.Stop()

	if err != nil {
		cancel()

		if timedOut.Load() {
			return nil, ErrResponseTimeout
		}

		if errors.Is(err, ErrTooManyRedirects) {
			return nil, ErrTooManyRedirects
		}

		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		res.Body.Close()
		cancel()

		return nil, &StatusError{StatusCode: res.StatusCode, Status: res.Status}
	}

	return &Response{
		StatusCode:    res.StatusCode,
		ContentLength: res.ContentLength,
		Header:        res.Header,
		Body:          &cancelOnClose{ReadCloser: res.Body, cancel: cancel},
	}, nil
}

// cancelOnClose releases the request context when the body is closed, so the
// connection is not pinned past the stream's lifetime.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()

	return err
}
