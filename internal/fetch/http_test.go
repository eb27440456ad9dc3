package fetch_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fetchd/fetchd/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchStreamsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "fetchd-test", r.Header.Get("User-Agent"))

		fmt.Fprint(w, "response body")
	}))
	defer ts.Close()

	headers := http.Header{}
	headers.Set("User-Agent", "fetchd-test")

	f := fetch.NewHTTPFetcher()

	res, err := f.Fetch(context.Background(), ts.URL, fetch.Options{Headers: headers})
	require.NoError(t, err)

	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(len("response body")), res.ContentLength)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "response body", string(body))
}

func TestFetchForwardsRangeHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=100-", r.Header.Get("Range"))

		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, "tail")
	}))
	defer ts.Close()

	headers := http.Header{}
	headers.Set("Range", "bytes=100-")

	f := fetch.NewHTTPFetcher()

	res, err := f.Fetch(context.Background(), ts.URL, fetch.Options{Headers: headers})
	require.NoError(t, err)

	defer res.Body.Close()

	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
}

func TestFetchResponseTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	f := fetch.NewHTTPFetcher()

	_, err := f.Fetch(context.Background(), ts.URL, fetch.Options{ResponseTimeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, fetch.ErrResponseTimeout)
}

func TestFetchTimeoutDoesNotBoundBodyRead(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "first")
		flusher.Flush()

		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, "second")
	}))
	defer ts.Close()

	f := fetch.NewHTTPFetcher()

	res, err := f.Fetch(context.Background(), ts.URL, fetch.Options{ResponseTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	defer res.Body.Close()

	// The body read outlives the response timeout.
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", string(body))
}

func TestFetchTooManyRedirects(t *testing.T) {
	var ts *httptest.Server

	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, ts.URL, http.StatusFound)
	}))
	defer ts.Close()

	f := fetch.NewHTTPFetcher()

	_, err := f.Fetch(context.Background(), ts.URL, fetch.Options{})
	assert.ErrorIs(t, err, fetch.ErrTooManyRedirects)
}

func TestFetchNon2xxStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"not found", http.StatusNotFound},
		{"forbidden", http.StatusForbidden},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer ts.Close()

			f := fetch.NewHTTPFetcher()

			_, err := f.Fetch(context.Background(), ts.URL, fetch.Options{})
			require.Error(t, err)

			var statusErr *fetch.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.statusCode, statusErr.StatusCode)
		})
	}
}

func TestFetchCancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := fetch.NewHTTPFetcher()

	_, err := f.Fetch(ctx, ts.URL, fetch.Options{})
	assert.Error(t, err)
}
