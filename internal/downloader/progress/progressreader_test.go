package progress

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReportsCumulativeBytes(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var samples []int64

	reader := NewReader(bytes.NewReader(data), time.Hour, func(read, _ int64) {
		samples = append(samples, read)
	})

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Len(t, got, len(data))

	// One forced sample for the first chunk; the interval is far too long
	// for any other, but the drain sample closes the count at the total.
	require.NotEmpty(t, samples)
	assert.Equal(t, int64(len(data)), samples[len(samples)-1])
}

func TestReaderThrottlesByInterval(t *testing.T) {
	// 100 chunks of 10 bytes with a generous interval: far fewer samples
	// than reads.
	var sampleCount int

	reader := NewReader(
		iotest(100, 10),
		50*time.Millisecond,
		func(_, _ int64) { sampleCount++ },
	)

	_, err := io.ReadAll(reader)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, sampleCount, 1)
	assert.Less(t, sampleCount, 100)
}

func TestReaderSpeedIsNonNegative(t *testing.T) {
	var speeds []int64

	reader := NewReader(bytes.NewReader([]byte("abcdefgh")), time.Millisecond, func(_, speed int64) {
		speeds = append(speeds, speed)
	})

	_, err := io.ReadAll(reader)
	require.NoError(t, err)

	require.NotEmpty(t, speeds)

	for _, speed := range speeds {
		assert.GreaterOrEqual(t, speed, int64(0))
	}
}

func TestReaderNilCallback(t *testing.T) {
	reader := NewReader(bytes.NewReader([]byte("data")), time.Millisecond, nil)

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

// iotest yields count chunks of size bytes, one chunk per Read call.
func iotest(count, size int) io.Reader {
	readers := make([]io.Reader, 0, count)

	for i := 0; i < count; i++ {
		readers = append(readers, bytes.NewReader(bytes.Repeat([]byte("y"), size)))
	}

	return io.MultiReader(readers...)
}
