package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/yoho/internal/backend"
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/ratelimit"
	"github.com/ashita-ai/yoho/internal/selection"
	"github.com/ashita-ai/yoho/internal/service/forecasts"
	"github.com/ashita-ai/yoho/internal/service/options"
	"github.com/ashita-ai/yoho/internal/storage"
	"github.com/ashita-ai/yoho/internal/testutil"
)

// fakeBackend serves one dataset (v1/standard/armed_conflict) with two
// months, two countries, two metrics and cells for country 840.
type fakeBackend struct {
	forecastStatus atomic.Int32
	forecastQuery  atomic.Value
}

func (b *fakeBackend) handler() http.Handler {
	b.forecastStatus.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/standard/armed_conflict/months", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[500, 501]`))
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/countries", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 840, "name": "United States"}, {"id": 4, "name": "Afghanistan"}]`))
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/metrics", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["MAP", "HDI_90_lower"]`))
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/cells", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1, 2]`))
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/forecasts", func(w http.ResponseWriter, r *http.Request) {
		b.forecastQuery.Store(r.URL.RawQuery)
		if status := int(b.forecastStatus.Load()); status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		_, _ = w.Write([]byte(
			`{"priogrid_id":1,"country_id":840,"month_id":500,"lat":1.5,"lon":2.5,"metrics":{"MAP":0.25,"HDI_90_lower":null}}` + "\n" +
				`{"priogrid_id":2,"country_id":840,"month_id":500,"lat":1.5,"lon":3.0,"metrics":{"MAP":0.5,"HDI_90_lower":0.1}}` + "\n" +
				`{"priogrid_id":3,"country_id":840,"month_id":500,"lat":2.0,"lon":2.5,"metrics":{"MAP":0.75,"HDI_90_lower":0.2}}` + "\n",
		))
	})
	return mux
}

// stubExporter records exports in memory.
type stubExporter struct {
	exported []model.Result
	err      error
}

func (s *stubExporter) Export(_ context.Context, r model.Result) (storage.ExportReceipt, error) {
	if s.err != nil {
		return storage.ExportReceipt{}, s.err
	}
	s.exported = append(s.exported, r)
	return storage.ExportReceipt{ExportID: uuid.New(), Records: len(r.Records), Location: "memory"}, nil
}

func (s *stubExporter) Close() error { return nil }

type fixture struct {
	server  *Server
	engine  *selection.Engine
	backend *fakeBackend
}

func newFixture(t *testing.T, exporter storage.Exporter, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	client, err := backend.NewClient(backend.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	logger := testutil.TestLogger()

	engine, err := selection.New(selection.Config{
		Resolver: options.New(client, logger),
		Fetcher:  forecasts.New(client, logger),
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	require.NoError(t, engine.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := engine.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, selection.StatusReady, snap.Status)

	return &fixture{
		server:  New(engine, exporter, limiter, logger, "test"),
		engine:  engine,
		backend: fb,
	}
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func decodeToolJSON(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &m))
	return m
}

func TestHandleState(t *testing.T) {
	f := newFixture(t, nil, nil)

	result, err := f.server.handleState(context.Background(), callRequest("yoho_state", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	m := decodeToolJSON(t, result)
	assert.Equal(t, "ready", m["status"])
	opts := m["options"].(map[string]any)
	assert.Equal(t, map[string]any{"loaded": true, "count": float64(2)}, opts["months"])
	assert.Equal(t, map[string]any{"loaded": true, "count": float64(2)}, opts["country"])
	_, hasCells := opts["cells"]
	assert.False(t, hasCells, "cells are omitted without a country")
	_, hasResult := m["result"]
	assert.False(t, hasResult)
}

func TestHandleSelectAndSubmit(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	result, err := f.server.handleSelect(ctx, callRequest("yoho_select", map[string]any{
		"field":  "country",
		"values": []any{"840"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	opts := decodeToolJSON(t, result)["options"].(map[string]any)
	assert.Equal(t, map[string]any{"loaded": true, "count": float64(2)}, opts["cells"], "wait=true settles the cells round")

	result, err = f.server.handleSelect(ctx, callRequest("yoho_select", map[string]any{
		"field":  "month",
		"values": []any{"500"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	result, err = f.server.handleSubmit(ctx, callRequest("yoho_submit", map[string]any{"limit": 2}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	m := decodeToolJSON(t, result)
	assert.Equal(t, "ready", m["status"])
	records := m["records"].(map[string]any)
	assert.Len(t, records["items"], 2)
	assert.Equal(t, true, records["truncated"])
	summary := m["result"].(map[string]any)
	assert.Equal(t, float64(3), summary["record_count"])

	assert.Equal(t, "country_id=840&month_id=500", f.backend.forecastQuery.Load())
}

func TestHandleSelectRejections(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		args    map[string]any
		wantMsg string
	}{
		{"unknown field", map[string]any{"field": "planet", "values": []any{"mars"}}, "invalid field"},
		{"value not offered", map[string]any{"field": "months", "values": []any{"999"}}, `"999" is not an available option`},
		{"two countries", map[string]any{"field": "country", "values": []any{"840", "4"}}, "at most one country"},
		{"cells without country", map[string]any{"field": "cells", "values": []any{"12345"}}, "require a country"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.server.handleSelect(ctx, callRequest("yoho_select", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, parseToolText(t, result), tt.wantMsg)
		})
	}
}

func TestHandleClearCountry(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.engine.SetCountry("840"))
	result, err := f.server.handleClearCountry(ctx, callRequest("yoho_clear_country", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	_, ok := f.engine.Snapshot().Descriptor.Country()
	assert.False(t, ok)
}

func TestHandleSubmitFailureThenRetry(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.backend.forecastStatus.Store(http.StatusBadGateway)

	result, err := f.server.handleSubmit(ctx, callRequest("yoho_submit", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	m := decodeToolJSON(t, result)
	assert.Equal(t, "failed", m["status"])
	failure := m["failure"].(map[string]any)
	assert.Equal(t, "fetch", failure["operation"])
	assert.Equal(t, float64(http.StatusBadGateway), failure["status_code"])

	// Submitting again is rejected until the failure is retried.
	result, err = f.server.handleSubmit(ctx, callRequest("yoho_submit", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "yoho_retry")

	f.backend.forecastStatus.Store(http.StatusOK)
	result, err = f.server.handleRetry(ctx, callRequest("yoho_retry", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.Equal(t, "ready", decodeToolJSON(t, result)["status"])
	require.NotNil(t, f.engine.Snapshot().Result)
}

func TestHandleRetryRejectedWhenNotFailed(t *testing.T) {
	f := newFixture(t, nil, nil)
	result, err := f.server.handleRetry(context.Background(), callRequest("yoho_retry", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "nothing to retry")
}

func TestHandleExport(t *testing.T) {
	exp := &stubExporter{}
	f := newFixture(t, exp, nil)
	ctx := context.Background()

	result, err := f.server.handleExport(ctx, callRequest("yoho_export", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError, "nothing to export before a submit")

	_, err = f.server.handleSubmit(ctx, callRequest("yoho_submit", nil))
	require.NoError(t, err)

	result, err = f.server.handleExport(ctx, callRequest("yoho_export", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	m := decodeToolJSON(t, result)
	assert.Equal(t, float64(3), m["records"])
	assert.Equal(t, "memory", m["location"])
	require.Len(t, exp.exported, 1)

	exp.err = errors.New("disk full")
	result, err = f.server.handleExport(ctx, callRequest("yoho_export", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "disk full")
}

func TestExportToolRegisteredOnlyWithExporter(t *testing.T) {
	without := newFixture(t, nil, nil)
	_, ok := without.server.MCPServer().ListTools()["yoho_export"]
	assert.False(t, ok)

	with := newFixture(t, &stubExporter{}, nil)
	tools := with.server.MCPServer().ListTools()
	for _, name := range []string{"yoho_state", "yoho_select", "yoho_clear_country", "yoho_submit", "yoho_retry", "yoho_export"} {
		_, ok := tools[name]
		assert.True(t, ok, "missing tool %s", name)
	}
}

func TestLimitedRejectsOverBudget(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	t.Cleanup(func() { _ = limiter.Close() })
	f := newFixture(t, nil, limiter)
	ctx := context.Background()

	handler := f.server.limited("yoho_state", f.server.handleState)
	result, err := handler(ctx, callRequest("yoho_state", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = handler(ctx, callRequest("yoho_state", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "rate limit exceeded")

	// Other tools draw from their own bucket.
	other := f.server.limited("yoho_retry", f.server.handleRetry)
	result, err = other(ctx, callRequest("yoho_retry", nil))
	require.NoError(t, err)
	assert.NotContains(t, parseToolText(t, result), "rate limit")
}
