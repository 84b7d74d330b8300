// Package options resolves the dependent option lists (months, countries,
// metrics, grid cells) that are valid for a scope.
package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/yoho/internal/backend"
	"github.com/ashita-ai/yoho/internal/ctxutil"
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/telemetry"
)

// Resolver fetches option lists. Results are never cached here; the
// selection engine owns option-set lifetime.
type Resolver interface {
	ResolveScopedOptions(ctx context.Context, scope model.Scope) (model.ScopedOptions, error)
	ResolveCells(ctx context.Context, scope model.Scope, country model.ID) (model.OptionSet, error)
}

// Service resolves options against the forecast API.
type Service struct {
	client *backend.Client
	logger *slog.Logger

	duration metric.Float64Histogram
}

// New creates an options Service.
func New(client *backend.Client, logger *slog.Logger) *Service {
	dur, _ := telemetry.Meter("yoho/options").Float64Histogram("yoho.options.duration",
		metric.WithDescription("Time to resolve one option list (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{client: client, logger: logger, duration: dur}
}

// ResolveScopedOptions resolves months, countries and metrics for scope.
// The three requests run concurrently and are joined; the first failure
// cancels the others and is returned as a *model.ResolutionError naming
// the field. No partial result is ever returned.
func (s *Service) ResolveScopedOptions(ctx context.Context, scope model.Scope) (model.ScopedOptions, error) {
	if err := scope.Validate(); err != nil {
		return model.ScopedOptions{}, err
	}

	var out model.ScopedOptions
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Months, err = s.resolve(gctx, scope, model.FieldMonths, "months", nil)
		return err
	})
	g.Go(func() (err error) {
		out.Countries, err = s.resolve(gctx, scope, model.FieldCountry, "countries", nil)
		return err
	})
	g.Go(func() (err error) {
		out.Metrics, err = s.resolve(gctx, scope, model.FieldMetrics, "metrics", nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.ScopedOptions{}, err
	}
	return out, nil
}

// ResolveCells resolves the grid cells of country within scope.
func (s *Service) ResolveCells(ctx context.Context, scope model.Scope, country model.ID) (model.OptionSet, error) {
	if err := scope.Validate(); err != nil {
		return model.OptionSet{}, err
	}
	if country.IsZero() {
		return model.OptionSet{}, &model.ValidationError{Field: model.FieldCountry, Reason: "cells require a country"}
	}
	q := url.Values{}
	q.Set("country_id", country.String())
	set, err := s.resolve(ctx, scope, model.FieldCells, "cells", q)
	if err != nil {
		return model.OptionSet{}, err
	}
	set.Country = country
	return set, nil
}

func (s *Service) resolve(ctx context.Context, scope model.Scope, field model.Field, endpoint string, q url.Values) (model.OptionSet, error) {
	start := time.Now()
	var raw []json.RawMessage
	err := s.client.GetJSON(ctxutil.WithOperation(ctx, "options"), scope.Path()+"/"+endpoint, q, &raw)

	outcome := "ok"
	defer func() {
		if s.duration != nil {
			s.duration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
				attribute.String("yoho.field", string(field)),
				attribute.String("yoho.outcome", outcome),
			))
		}
	}()

	if err != nil {
		outcome = "error"
		if !backend.IsContextError(err) {
			s.logger.Warn("options: resolve failed", "field", field, "scope", scope.String(), "error", err)
		}
		return model.OptionSet{}, &model.ResolutionError{Field: field, StatusCode: backend.StatusCode(err), Err: err}
	}

	opts, err := decodeOptions(raw)
	if err != nil {
		outcome = "error"
		return model.OptionSet{}, &model.ResolutionError{Field: field, Err: err}
	}
	s.logger.Debug("options: resolved", "field", field, "scope", scope.String(), "count", len(opts))
	return model.OptionSet{Field: field, Scope: scope, Options: opts}, nil
}

// optionObject is the {id, name} shape some backends use for countries.
type optionObject struct {
	ID    *model.ID `json:"id"`
	Value *model.ID `json:"value"`
	Name  string    `json:"name"`
	Label string    `json:"label"`
}

// decodeOptions accepts an array of scalars (numbers or strings, labelled
// with their own text) or an array of {id|value, name|label} objects.
func decodeOptions(raw []json.RawMessage) ([]model.Option, error) {
	opts := make([]model.Option, 0, len(raw))
	for i, elem := range raw {
		trimmed := strings.TrimSpace(string(elem))
		if strings.HasPrefix(trimmed, "{") {
			var obj optionObject
			if err := json.Unmarshal(elem, &obj); err != nil {
				return nil, fmt.Errorf("option %d: %w", i, err)
			}
			var value model.ID
			switch {
			case obj.ID != nil:
				value = *obj.ID
			case obj.Value != nil:
				value = *obj.Value
			default:
				return nil, fmt.Errorf("option %d: object has neither id nor value", i)
			}
			label := obj.Name
			if label == "" {
				label = obj.Label
			}
			if label == "" {
				label = value.String()
			}
			opts = append(opts, model.Option{Value: value.String(), Label: label})
			continue
		}

		var value model.ID
		if err := json.Unmarshal(elem, &value); err != nil {
			return nil, fmt.Errorf("option %d: %w", i, err)
		}
		if value.IsZero() {
			return nil, errors.New("option " + strconv.Itoa(i) + ": empty value")
		}
		opts = append(opts, model.Option{Value: value.String(), Label: value.String()})
	}
	return opts, nil
}
