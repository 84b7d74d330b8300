// Package forecasts retrieves forecast records for a query descriptor and
// decodes the NDJSON response.
package forecasts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/yoho/internal/backend"
	"github.com/ashita-ai/yoho/internal/ctxutil"
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/telemetry"
)

// Fetcher retrieves the records matching a descriptor.
type Fetcher interface {
	FetchForecasts(ctx context.Context, d model.Descriptor) ([]model.Record, error)
}

// Service fetches forecasts from the forecast API.
type Service struct {
	client *backend.Client
	logger *slog.Logger

	records  metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a forecasts Service.
func New(client *backend.Client, logger *slog.Logger) *Service {
	meter := telemetry.Meter("yoho/forecasts")
	records, _ := meter.Int64Counter("yoho.forecasts.records",
		metric.WithDescription("Forecast records decoded"),
	)
	dur, _ := meter.Float64Histogram("yoho.forecasts.duration",
		metric.WithDescription("Forecast retrieval time including body decode (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{client: client, logger: logger, records: records, duration: dur}
}

// Query builds the forecast query string for d. Each selected value becomes
// its own occurrence of the key; nothing selected yields an empty query.
func Query(d model.Descriptor) url.Values {
	q := url.Values{}
	for _, id := range d.Months() {
		q.Add(model.FieldMonths.QueryKey(), id.String())
	}
	if country, ok := d.Country(); ok {
		q.Add(model.FieldCountry.QueryKey(), country.String())
	}
	for _, id := range d.Cells() {
		q.Add(model.FieldCells.QueryKey(), id.String())
	}
	for _, m := range d.Metrics() {
		q.Add(model.FieldMetrics.QueryKey(), m)
	}
	return q
}

// Path returns the forecasts endpoint for d's scope.
func Path(d model.Descriptor) string {
	return d.Scope().Path() + "/forecasts"
}

// FetchForecasts validates d, issues the request and decodes every
// non-blank response line. A malformed line fails the whole call; records
// decoded before it are dropped.
func (s *Service) FetchForecasts(ctx context.Context, d model.Descriptor) ([]model.Record, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var records []model.Record
	err := s.client.Stream(ctxutil.WithOperation(ctx, "forecasts"), Path(d), Query(d), func(line int, data []byte) error {
		var rec model.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return &model.FetchError{Kind: model.FetchDecode, Line: line, Err: err}
		}
		records = append(records, rec)
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		ferr := classify(err)
		s.observe(ctx, string(ferr.Kind), 0, elapsed)
		if !backend.IsContextError(err) {
			s.logger.Warn("forecasts: fetch failed",
				"scope", d.Scope().String(),
				"kind", ferr.Kind,
				"status", ferr.StatusCode,
				"line", ferr.Line,
				"error", ferr.Err,
			)
		}
		return nil, ferr
	}

	s.observe(ctx, "ok", len(records), elapsed)
	s.logger.Debug("forecasts: fetched", "scope", d.Scope().String(), "records", len(records), "duration_ms", elapsed.Milliseconds())
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

// classify maps transport failures onto the fetch error taxonomy.
func classify(err error) *model.FetchError {
	var fe *model.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	var se *backend.StatusError
	if errors.As(err, &se) {
		return &model.FetchError{Kind: model.FetchStatus, StatusCode: se.StatusCode, Err: err}
	}
	return &model.FetchError{Kind: model.FetchNetwork, Err: err}
}

func (s *Service) observe(ctx context.Context, outcome string, n int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("yoho.outcome", outcome))
	if s.records != nil && n > 0 {
		s.records.Add(ctx, int64(n), attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(d.Milliseconds()), attrs)
	}
}
