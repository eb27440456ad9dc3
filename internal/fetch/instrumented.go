package fetch

import (
	"context"

	"github.com/fetchd/fetchd/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InstrumentedFetcher wraps a Fetcher with telemetry: one span and one
// counter increment per fetch attempt.
type InstrumentedFetcher struct {
	next Fetcher
	tel  *telemetry.Telemetry
}

func NewInstrumentedFetcher(next Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{next: next, tel: tel}
}

func (f *InstrumentedFetcher) Fetch(ctx context.Context, url string, opts Options) (*Response, error) {
	ctx, span := f.tel.Tracer().Start(ctx, "fetch")
	defer span.End()

	res, err := f.next.Fetch(ctx, url, opts)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
		f.tel.RecordFetch("error")

		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
	f.tel.RecordFetch("success")

	return res, nil
}
