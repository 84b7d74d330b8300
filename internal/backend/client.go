// Package backend is the HTTP transport for the forecast REST API.
//
// It knows how to reach the API and turn HTTP failures into *StatusError;
// it does not know what the endpoints mean. The option resolver and the
// forecast fetcher build on GetJSON and Stream.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/yoho/internal/ctxutil"
	"github.com/ashita-ai/yoho/internal/telemetry"
)

// DefaultBaseURL is used by callers that have no configured backend.
const DefaultBaseURL = "http://localhost:8000"

// maxErrorBody bounds how much of a failed response is kept for the message.
const maxErrorBody = 64 << 10

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the forecast API (e.g. "http://localhost:8000").
	BaseURL string

	// PathPrefix is inserted between BaseURL and every request path
	// (e.g. "/api" when the API is mounted under a prefix).
	PathPrefix string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests when HTTPClient is nil.
	// Defaults to 30 seconds.
	Timeout time.Duration

	// UserAgent is sent with every request when non-empty.
	UserAgent string
}

// Client issues GET requests against the forecast API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	client    *http.Client
	userAgent string

	tracer        trace.Tracer
	requestCount  metric.Int64Counter
	requestMillis metric.Float64Histogram
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty or not an absolute http(s) URL.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse BaseURL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("backend: BaseURL must be an absolute http(s) URL (got %q)", cfg.BaseURL)
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if prefix := strings.Trim(cfg.PathPrefix, "/"); prefix != "" {
		base += "/" + prefix
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	meter := telemetry.Meter("yoho/backend")
	count, _ := meter.Int64Counter("yoho.backend.request_count",
		metric.WithDescription("Requests issued to the forecast API"),
	)
	millis, _ := meter.Float64Histogram("yoho.backend.duration",
		metric.WithDescription("Forecast API round-trip time until headers (ms)"),
		metric.WithUnit("ms"),
	)

	return &Client{
		baseURL:       base,
		client:        httpClient,
		userAgent:     cfg.UserAgent,
		tracer:        telemetry.Tracer("yoho/backend"),
		requestCount:  count,
		requestMillis: millis,
	}, nil
}

// BaseURL returns the effective URL prefix, including any PathPrefix.
func (c *Client) BaseURL() string { return c.baseURL }

// URL builds the absolute request URL for path and query. Multi-valued
// keys are repeated, one occurrence per value. No "?" is added when query
// is empty.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetJSON issues a GET and decodes the JSON response into dest.
// A non-2xx status returns *StatusError without decoding the body.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, dest any) error {
	resp, finish, err := c.do(ctx, path, query)
	if err != nil {
		return err
	}
	defer finish()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend: read response body: %w", err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// Stream issues a GET and calls fn once per non-blank line of the response
// body, in order, as the body arrives. Lines are not length-limited. The
// first error from fn stops the stream and is returned unchanged.
// A non-2xx status returns *StatusError before fn is ever called.
func (c *Client) Stream(ctx context.Context, path string, query url.Values, fn func(line int, data []byte) error) error {
	resp, finish, err := c.do(ctx, path, query)
	if err != nil {
		return err
	}
	defer finish()

	r := bufio.NewReader(resp.Body)
	for n := 1; ; n++ {
		data, readErr := r.ReadBytes('\n')
		if line := bytes.TrimSpace(data); len(line) > 0 {
			if err := fn(n, line); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("backend: read stream: %w", readErr)
		}
	}
}

// do sends the request and validates the status. On success the caller
// must invoke finish after consuming the body.
func (c *Client) do(ctx context.Context, path string, query url.Values) (*http.Response, func(), error) {
	ctx, requestID := ctxutil.EnsureRequestID(ctx)
	ctx, span := c.tracer.Start(ctx, "GET "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", http.MethodGet),
			attribute.String("http.route", path),
			attribute.String("yoho.request_id", requestID),
			attribute.String("yoho.operation", ctxutil.OperationFromContext(ctx)),
		),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, query), nil)
	if err != nil {
		span.End()
		return nil, nil, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/x-ndjson")
	req.Header.Set("X-Request-ID", requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.client.Do(req)
	c.record(ctx, path, resp, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		span.End()
		return nil, nil, &TransportError{Method: req.Method, Path: req.URL.Path, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer span.End()
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := parseErrorResponse(resp.StatusCode, body)
		span.SetStatus(codes.Error, statusErr.Error())
		return nil, nil, statusErr
	}

	return resp, func() {
		_ = resp.Body.Close()
		span.End()
	}, nil
}

func (c *Client) record(ctx context.Context, path string, resp *http.Response, d time.Duration) {
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	attrs := metric.WithAttributes(
		attribute.String("http.route", routeOf(path)),
		attribute.String("http.status_code", status),
	)
	if c.requestCount != nil {
		c.requestCount.Add(ctx, 1, attrs)
	}
	if c.requestMillis != nil {
		c.requestMillis.Record(ctx, float64(d.Milliseconds()), attrs)
	}
}

// routeOf keeps metric cardinality bounded: only the trailing endpoint
// segment ("months", "forecasts", ...) is used as the route label.
func routeOf(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// fastAPIError is FastAPI's HTTPException body.
type fastAPIError struct {
	Detail json.RawMessage `json:"detail"`
}

func parseErrorResponse(statusCode int, body []byte) *StatusError {
	apiErr := &StatusError{StatusCode: statusCode}

	var envelope fastAPIError
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var s string
		if json.Unmarshal(envelope.Detail, &s) == nil {
			apiErr.Message = s
		} else {
			// Validation errors carry a structured detail list.
			apiErr.Message = string(envelope.Detail)
		}
		return apiErr
	}

	if msg := strings.TrimSpace(string(body)); msg != "" {
		apiErr.Message = msg
	} else {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

// IsContextError reports whether err came from a cancelled or expired context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
