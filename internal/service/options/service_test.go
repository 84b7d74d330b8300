package options

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/yoho/internal/backend"
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/testutil"
)

var testScope = model.Scope{Run: "v1", LoA: "standard", ViolenceType: "armed_conflict"}

func newService(t *testing.T, mux *http.ServeMux) *Service {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client, err := backend.NewClient(backend.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return New(client, testutil.TestLogger())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestResolveScopedOptions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/standard/armed_conflict/months", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []int{500, 501, 502})
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/countries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{840, "4"})
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{"MAP", "HDI_90_lower"})
	})
	svc := newService(t, mux)

	got, err := svc.ResolveScopedOptions(context.Background(), testScope)
	require.NoError(t, err)

	assert.Equal(t, testScope, got.Scope())
	assert.Equal(t, testScope, got.Countries.Scope)
	assert.Equal(t, testScope, got.Metrics.Scope)
	assert.Equal(t, model.FieldMonths, got.Months.Field)
	assert.Equal(t, []string{"500", "501", "502"}, got.Months.Values())
	assert.Equal(t, []string{"840", "4"}, got.Countries.Values())
	assert.Equal(t, []string{"MAP", "HDI_90_lower"}, got.Metrics.Values())
	assert.Equal(t, "500", got.Months.Options[0].Label)
}

func TestResolveScopedOptionsFailFast(t *testing.T) {
	var monthsCancelled atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/standard/armed_conflict/months", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			monthsCancelled.Store(true)
		case <-time.After(3 * time.Second):
			writeJSON(w, []int{500})
		}
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/countries", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]string{"detail": "database unavailable"})
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{"MAP"})
	})
	svc := newService(t, mux)

	start := time.Now()
	got, err := svc.ResolveScopedOptions(context.Background(), testScope)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "siblings should be cancelled")

	var re *model.ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, model.FieldCountry, re.Field)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.Contains(t, err.Error(), "database unavailable")
	assert.Equal(t, model.KindResolution, model.Kind(err))
	assert.Zero(t, got.Months.Len())
	assert.Zero(t, got.Metrics.Len())
}

func TestResolveScopedOptionsDecodeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/standard/armed_conflict/months", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []int{500})
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/countries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []int{840})
	})
	mux.HandleFunc("GET /v1/standard/armed_conflict/metrics", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "a list"}`))
	})
	svc := newService(t, mux)

	_, err := svc.ResolveScopedOptions(context.Background(), testScope)
	var re *model.ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, model.FieldMetrics, re.Field)
	assert.Zero(t, re.StatusCode)
}

func TestResolveScopedOptionsInvalidScope(t *testing.T) {
	svc := newService(t, http.NewServeMux())
	_, err := svc.ResolveScopedOptions(context.Background(), model.Scope{Run: "v1", LoA: " "})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestResolveCells(t *testing.T) {
	var gotCountry string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/alternative/other/cells", func(w http.ResponseWriter, r *http.Request) {
		gotCountry = r.URL.Query().Get("country_id")
		writeJSON(w, []int{12345, 12346})
	})
	svc := newService(t, mux)

	scope := model.Scope{Run: "v2", LoA: "alternative", ViolenceType: "other"}
	set, err := svc.ResolveCells(context.Background(), scope, "840")
	require.NoError(t, err)
	assert.Equal(t, "840", gotCountry)
	assert.Equal(t, model.FieldCells, set.Field)
	assert.Equal(t, scope, set.Scope)
	assert.Equal(t, model.ID("840"), set.Country)
	assert.True(t, set.Matches(scope, "840"))
	assert.False(t, set.Matches(scope, "4"))
	assert.Equal(t, []string{"12345", "12346"}, set.Values())
}

func TestResolveCellsRequiresCountry(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, []int{})
	})
	svc := newService(t, mux)

	_, err := svc.ResolveCells(context.Background(), testScope, "")
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Zero(t, calls.Load())
}

func TestResolveCellsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/standard/armed_conflict/cells", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"detail": "unknown country"})
	})
	svc := newService(t, mux)

	_, err := svc.ResolveCells(context.Background(), testScope, "999")
	var re *model.ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, model.FieldCells, re.Field)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
}

func TestDecodeOptions(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []model.Option
		wantErr bool
	}{
		{
			name: "numbers",
			body: `[500, 501]`,
			want: []model.Option{{Value: "500", Label: "500"}, {Value: "501", Label: "501"}},
		},
		{
			name: "strings",
			body: `["MAP", " HDI_90_lower "]`,
			want: []model.Option{{Value: "MAP", Label: "MAP"}, {Value: "HDI_90_lower", Label: "HDI_90_lower"}},
		},
		{
			name: "id name objects",
			body: `[{"id": 840, "name": "United States"}, {"id": "4"}]`,
			want: []model.Option{{Value: "840", Label: "United States"}, {Value: "4", Label: "4"}},
		},
		{
			name: "value label objects",
			body: `[{"value": "v1", "label": "Run 1"}]`,
			want: []model.Option{{Value: "v1", Label: "Run 1"}},
		},
		{
			name: "empty",
			body: `[]`,
			want: []model.Option{},
		},
		{name: "object without id", body: `[{"name": "x"}]`, wantErr: true},
		{name: "null element", body: `[null]`, wantErr: true},
		{name: "bool element", body: `[true]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw []json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(tt.body), &raw))
			got, err := decodeOptions(raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
