package forecasts

import (
	"context"
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

func newService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := backend.NewClient(backend.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return New(client, testutil.TestLogger())
}

func ndjson(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(body))
	}
}

func TestQuery(t *testing.T) {
	d := model.NewDescriptor(testScope).
		WithMonths("500", "501").
		WithCountry("840").
		WithCells("12345", "12346").
		WithMetrics("MAP", "HDI_90_lower")

	q := Query(d)
	assert.Equal(t, []string{"500", "501"}, q["month_id"])
	assert.Equal(t, []string{"840"}, q["country_id"])
	assert.Equal(t, []string{"12345", "12346"}, q["priogrid_id"])
	assert.Equal(t, []string{"MAP", "HDI_90_lower"}, q["metrics"])

	assert.Empty(t, Query(model.NewDescriptor(testScope)))
	assert.Equal(t, "/v1/standard/armed_conflict/forecasts", Path(d))
}

func TestFetchNoFilters(t *testing.T) {
	var gotPath, gotRawQuery string
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRawQuery = r.URL.RawQuery
		ndjson(`{"priogrid_id":1,"country_id":840,"month_id":500,"lat":10.5,"lon":-20.25,"metrics":{"MAP":0.5}}` + "\n")(w, r)
	})

	records, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope))
	require.NoError(t, err)
	assert.Equal(t, "/v1/standard/armed_conflict/forecasts", gotPath)
	assert.Empty(t, gotRawQuery)
	require.Len(t, records, 1)
	assert.Equal(t, model.ID("1"), records[0].PriogridID)
	assert.Equal(t, model.ID("840"), records[0].CountryID)
	assert.InDelta(t, -20.25, records[0].Lon, 1e-9)
	require.NotNil(t, records[0].Metrics["MAP"])
	assert.InDelta(t, 0.5, *records[0].Metrics["MAP"], 1e-9)
}

func TestFetchThreeLinesInOrder(t *testing.T) {
	body := `{"priogrid_id":1,"month_id":500,"metrics":{"MAP":1}}` + "\n" +
		`{"priogrid_id":2,"month_id":500,"metrics":{"MAP":null}}` + "\n" +
		`{"priogrid_id":3,"month_id":500,"metrics":{"MAP":3}}` + "\n"
	svc := newService(t, ndjson(body))

	records, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope))
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, model.ID([]string{"1", "2", "3"}[i]), rec.PriogridID)
	}
	v, present := records[1].Metrics["MAP"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestFetchSkipsBlankLines(t *testing.T) {
	body := "\n" + `{"priogrid_id":1}` + "\n\n   \n" + `{"priogrid_id":2}` + "\n\n"
	svc := newService(t, ndjson(body))

	records, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFetchEmptyBody(t *testing.T) {
	svc := newService(t, ndjson(""))

	records, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope))
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFetchMalformedLine(t *testing.T) {
	body := `{"priogrid_id":1}` + "\n" + `{"priogrid_id":` + "\n" + `{"priogrid_id":3}` + "\n"
	svc := newService(t, ndjson(body))

	records, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope))
	require.Error(t, err)
	assert.Empty(t, records)

	var fe *model.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, model.FetchDecode, fe.Kind)
	assert.Equal(t, 2, fe.Line)
	assert.Equal(t, model.KindFetch, model.Kind(err))
}

func TestFetchRejectsNonObjectLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "null", line: "null", want: "expected a JSON object, got null"},
		{name: "array", line: "[1, 2]", want: "expected a JSON object, got array"},
		{name: "number", line: "42", want: "expected a JSON object, got number"},
		{name: "string", line: `"row"`, want: "expected a JSON object, got string"},
		{name: "wrong field type", line: `{"lat":"north"}`, want: `field "lat"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"priogrid_id":1}` + "\n" + tt.line + "\n" + `{"priogrid_id":3}` + "\n"
			svc := newService(t, ndjson(body))

			records, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope))
			require.Error(t, err)
			assert.Empty(t, records)

			var fe *model.FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, model.FetchDecode, fe.Kind)
			assert.Equal(t, 2, fe.Line)
			assert.Contains(t, err.Error(), tt.want)
			assert.NotContains(t, err.Error(), "Go value", "decode errors read as data problems")
		})
	}
}

func TestFetchStatusError(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["query","month_id"],"msg":"bad"}]}`))
	})

	records, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope).WithMonths("x"))
	assert.Nil(t, records)
	var fe *model.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, model.FetchStatus, fe.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, fe.StatusCode)
	assert.Contains(t, err.Error(), "month_id")
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := backend.NewClient(backend.Config{BaseURL: base, Timeout: time.Second})
	require.NoError(t, err)
	svc := New(client, testutil.TestLogger())

	_, err = svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope))
	var fe *model.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, model.FetchNetwork, fe.Kind)
	assert.Zero(t, fe.StatusCode)
}

func TestFetchRejectsCellsWithoutCountry(t *testing.T) {
	var calls atomic.Int32
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := svc.FetchForecasts(context.Background(), model.NewDescriptor(testScope).WithCells("12345"))
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Zero(t, calls.Load(), "invalid descriptor must not reach the network")
}
