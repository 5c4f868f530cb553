package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/live-weather-tracker/internal/common"
	"github.com/i474232898/live-weather-tracker/internal/push"
	"github.com/i474232898/live-weather-tracker/internal/store"
	"github.com/i474232898/live-weather-tracker/internal/weather"
)

type stubAPI struct {
	records   []weather.Record
	addErr    error
	deleteErr error
	cities    []string
	citiesErr error
}

func (s *stubAPI) ListRecords(context.Context) ([]weather.Record, error) { return s.records, nil }
func (s *stubAPI) AddRecord(context.Context) error                      { return s.addErr }
func (s *stubAPI) DeleteRecord(context.Context, int64) error            { return s.deleteErr }
func (s *stubAPI) ListCities(context.Context) ([]string, error)         { return s.cities, s.citiesErr }

type stubFeed struct {
	items []json.RawMessage
}

func (s *stubFeed) Items() []json.RawMessage { return s.items }

func newTestApp(t *testing.T, api *stubAPI, feed FeedSource) (*fiber.App, *push.Dispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := push.NewDispatcher(logger)
	svc := weather.NewService(api, bus, store.NewMemoryStore(0), weather.Options{Logger: logger})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, svc, Deps{Cities: api, Feed: feed})
	return app, bus
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type listResponse struct {
	Records []weather.Record `json:"records"`
	Count   int              `json:"count"`
	Busy    bool             `json:"busy"`
}

func TestListWeather(t *testing.T) {
	api := &stubAPI{records: []weather.Record{{ID: 1, City: "Delhi", Humidity: 60, Cloud: 20, WindSpeed: 5}}}
	app, bus := newTestApp(t, api, nil)

	bus.Dispatch(weather.EventUpdate, json.RawMessage(`{"id":2,"city":"Pune","humidity":40,"cloud":10,"wind_speed":12}`))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[listResponse](t, resp)
	assert.Equal(t, 2, body.Count)
	assert.False(t, body.Busy)
	require.Len(t, body.Records, 2)
	assert.Equal(t, "Pune", body.Records[0].City)
	assert.Equal(t, "Delhi", body.Records[1].City)
}

func TestGetWeatherRecord(t *testing.T) {
	api := &stubAPI{records: []weather.Record{{ID: 1, City: "Delhi", Humidity: 60, Cloud: 20, WindSpeed: 5}}}
	app, _ := newTestApp(t, api, nil)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "found", path: "/api/v1/weather/1", want: http.StatusOK},
		{name: "unknown id", path: "/api/v1/weather/7", want: http.StatusNotFound},
		{name: "bad id", path: "/api/v1/weather/abc", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			require.Equal(t, tt.want, resp.StatusCode)

			if tt.want == http.StatusOK {
				got := decode[weather.Record](t, resp)
				assert.Equal(t, api.records[0], got)
			}
		})
	}
}

func TestAddWeather(t *testing.T) {
	tests := []struct {
		name   string
		addErr error
		want   int
	}{
		{name: "accepted", want: http.StatusAccepted},
		{name: "upstream failure", addErr: fmt.Errorf("%w: 500", common.ErrNetwork), want: http.StatusBadGateway},
		{name: "timeout", addErr: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t, &stubAPI{addErr: tt.addErr}, nil)

			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/weather", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDeleteWeather(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		deleteErr error
		want      int
		wantLeft  int
	}{
		{name: "deleted", path: "/api/v1/weather/1", want: http.StatusNoContent, wantLeft: 1},
		{name: "absent id still succeeds", path: "/api/v1/weather/99", want: http.StatusNoContent, wantLeft: 2},
		{name: "upstream failure keeps record", path: "/api/v1/weather/1", deleteErr: fmt.Errorf("%w: 404", common.ErrNetwork), want: http.StatusBadGateway, wantLeft: 2},
		{name: "non numeric id", path: "/api/v1/weather/abc", want: http.StatusBadRequest, wantLeft: 2},
		{name: "negative id", path: "/api/v1/weather/-3", want: http.StatusBadRequest, wantLeft: 2},
		{name: "zero id", path: "/api/v1/weather/0", want: http.StatusBadRequest, wantLeft: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubAPI{
				records: []weather.Record{
					{ID: 2, City: "Pune"},
					{ID: 1, City: "Delhi"},
				},
				deleteErr: tt.deleteErr,
			}
			app, _ := newTestApp(t, api, nil)

			resp, err := app.Test(httptest.NewRequest(http.MethodDelete, tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)

			resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantLeft, decode[listResponse](t, resp).Count)
		})
	}
}

func TestListCities(t *testing.T) {
	app, _ := newTestApp(t, &stubAPI{cities: []string{"Delhi", "Pune"}}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/cities", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Delhi", "Pune"}, decode[[]string](t, resp))

	app, _ = newTestApp(t, &stubAPI{citiesErr: fmt.Errorf("%w: refused", common.ErrNetwork)}, nil)
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/cities", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["error"])
	assert.Equal(t, "failed to fetch cities", body["message"])
}

func TestFeed(t *testing.T) {
	app, _ := newTestApp(t, &stubAPI{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	feed := &stubFeed{items: []json.RawMessage{json.RawMessage(`{"a":1}`), json.RawMessage(`{"b":2}`)}}
	app, _ = newTestApp(t, &stubAPI{}, feed)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Items []json.RawMessage `json:"items"`
		Count int               `json:"count"`
	}](t, resp)
	assert.Equal(t, 2, body.Count)
	assert.JSONEq(t, `{"a":1}`, string(body.Items[0]))
	assert.JSONEq(t, `{"b":2}`, string(body.Items[1]))
}

func TestToFiberError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: weather.ErrBusy, want: fiber.StatusConflict},
		{err: weather.ErrNotStarted, want: fiber.StatusServiceUnavailable},
		{err: weather.ErrNotFound, want: fiber.StatusNotFound},
		{err: fmt.Errorf("%w: x", common.ErrParse), want: fiber.StatusBadGateway},
		{err: fmt.Errorf("something else"), want: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			var fe *fiber.Error
			require.ErrorAs(t, toFiberError(tt.err, "msg"), &fe)
			assert.Equal(t, tt.want, fe.Code)
		})
	}
}
