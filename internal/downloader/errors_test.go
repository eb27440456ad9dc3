package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeMessages(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{CodeOK, "success"},
		{CodeUnknown, "unknown error"},
		{CodeTimeout, "timed out waiting for the server response"},
		{CodeNotFound, "resource was not found"},
		{CodeFileExists, "destination file already exists"},
		{CodeAborted, "download was aborted"},
		{ErrorCode(999), "unknown error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.Message())
	}
}

func TestNewErrorFallsBackToCanonicalMessage(t *testing.T) {
	dl := &Download{id: "abc", url: "http://example.com/f", path: "/tmp/f"}

	err := newError(dl, CodeNotFound, "")
	assert.Equal(t, "resource was not found", err.Message)
	assert.Equal(t, "abc", err.ID)
	assert.Equal(t, "/tmp/f", err.Path)

	specific := newError(dl, CodeNetwork, "connection reset")
	assert.Equal(t, "connection reset", specific.Message)

	assert.Equal(t, "download abc failed with code 6: connection reset", specific.Error())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusInit.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusWaiting.Terminal())
	assert.False(t, StatusPaused.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusRemoved.Terminal())
}
