package downloader

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue()

	a := &Download{id: "a"}
	b := &Download{id: "b"}
	c := &Download{id: "c"}

	q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)

	assert.Equal(t, 3, q.len())
	assert.Equal(t, []*Download{a, b, c}, q.records())

	assert.Same(t, a, q.popFront())
	assert.Same(t, b, q.popFront())
	assert.Same(t, c, q.popFront())
	assert.Nil(t, q.popFront())
}

func TestQueueRemoveFromMiddle(t *testing.T) {
	q := newQueue()

	a := &Download{id: "a"}
	b := &Download{id: "b"}
	c := &Download{id: "c"}

	q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)

	assert.True(t, q.remove(b))
	assert.Equal(t, []*Download{a, c}, q.records())

	// The membership token is single-use.
	assert.False(t, q.remove(b))

	// Removing from the wrong queue is a no-op.
	other := newQueue()
	assert.False(t, other.remove(a))
	assert.Equal(t, 2, q.len())
}

func TestQueueHooks(t *testing.T) {
	q := newQueue()

	var inserts, removes int

	q.onInsert = func(*Download) { inserts++ }
	q.onRemove = func(*Download) { removes++ }

	a := &Download{id: "a"}
	b := &Download{id: "b"}

	q.pushBack(a)
	q.pushBack(b)
	q.popFront()
	q.remove(b)

	assert.Equal(t, 2, inserts)
	assert.Equal(t, 2, removes)
}

func TestFileNameFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"plain file", "http://example.com/path/file.zip", "file.zip"},
		{"query string stripped", "http://example.com/file.zip?token=abc", "file.zip"},
		{"fragment stripped", "http://example.com/file.zip#part", "file.zip"},
		{"trailing slash", "http://example.com/dir/", "dir"},
		{"bare host", "http://example.com", "example.com"},
		{"root only", "http://example.com/", "example.com"},
		{"no path at all", "http://", "download"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fileNameFromURL(tt.url))
		})
	}
}

func TestMergeHeaders(t *testing.T) {
	defaults := http.Header{}
	defaults.Set("User-Agent", "fetchd")
	defaults.Add("Accept", "application/json")
	defaults.Add("Accept", "text/plain")

	overrides := http.Header{}
	overrides.Set("Accept", "application/octet-stream")
	overrides.Set("X-Extra", "1")

	merged := mergeHeaders(defaults, overrides)

	assert.Equal(t, "fetchd", merged.Get("User-Agent"))
	assert.Equal(t, []string{"application/octet-stream"}, merged.Values("Accept"))
	assert.Equal(t, "1", merged.Get("X-Extra"))

	// Defaults are not mutated by the merge.
	assert.Equal(t, []string{"application/json", "text/plain"}, defaults.Values("Accept"))
}
