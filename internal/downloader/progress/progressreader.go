package progress

import (
	"io"
	"time"
)

// Reader wraps an io.Reader and reports cumulative bytes plus a smoothed
// transfer rate via a callback. Samples are throttled to at most one per
// interval so fast links do not flood observers, but the first chunk and the
// final drained chunk always produce a sample so start and end counts are
// accurate.
type Reader struct {
	Reader   io.Reader
	OnSample func(read int64, bytesPerSecond int64)

	interval    time.Duration
	read        int64
	sampledAt   time.Time
	sampledRead int64
	started     bool
}

func NewReader(r io.Reader, interval time.Duration, onSample func(read, bytesPerSecond int64)) *Reader {
	return &Reader{
		Reader:    r,
		OnSample:  onSample,
		interval:  interval,
		sampledAt: time.Now(),
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.read += int64(n)

		now := time.Now()
		if !pr.started || now.Sub(pr.sampledAt) >= pr.interval {
			pr.started = true
			pr.sample(now)
		}
	}

	if err == io.EOF && pr.read > pr.sampledRead {
		pr.sample(time.Now())
	}

	return n, err
}

func (pr *Reader) sample(now time.Time) {
	elapsed := now.Sub(pr.sampledAt)
	// Floor the window so a fast first chunk cannot produce a
	// divide-by-near-zero speed spike.
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}

	speed := int64(float64(pr.read-pr.sampledRead) / elapsed.Seconds())

	pr.sampledAt = now
	pr.sampledRead = pr.read

	if pr.OnSample != nil {
		pr.OnSample(pr.read, speed)
	}
}
