package telemetry

import (
	"net/http"
	"strconv"
	"time"
)

// HTTPMetrics records RED metrics for every request. A nil receiver is a
// pass-through.
func (t *Telemetry) HTTPMetrics(next http.Handler) http.Handler {
	if t == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		t.IncrementHTTPInFlight()
		defer t.DecrementHTTPInFlight()

		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		t.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.status), time.Since(start))
	})
}
