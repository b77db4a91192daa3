package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
)

// now is 12:20 at the forecast location (UTC+2)
var now = time.Date(2024, 5, 1, 10, 20, 0, 0, time.UTC)

// forecastBody builds an upstream response with hourly entries starting at
// local midnight of the given day for the given number of hours
func forecastBody(t *testing.T, hours int) []byte {
	t.Helper()
	zone := time.FixedZone("", 7200)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, zone)

	var hourlyTime []string
	var temps, precip []float64
	var codes []int
	for i := range hours {
		hourlyTime = append(hourlyTime, start.Add(time.Duration(i)*time.Hour).Format(upstreamLayout))
		temps = append(temps, float64(i))
		precip = append(precip, float64(i%100))
		codes = append(codes, []int{0, 3, 61, 95, 42}[i%5])
	}

	var days []string
	for i := range 7 {
		days = append(days, start.AddDate(0, 0, i).Format("2006-01-02"))
	}

	body := map[string]any{
		"utc_offset_seconds": 7200,
		"current_weather":    map[string]any{"time": "2024-05-01T12:15", "temperature": 17.4, "weathercode": 2},
		"hourly": map[string]any{
			"time":                      hourlyTime,
			"temperature_2m":            temps,
			"precipitation_probability": precip,
			"weathercode":               codes,
		},
		"daily": map[string]any{
			"time":                          days,
			"weathercode":                   []int{0, 1, 2, 3, 45, 61, 99},
			"temperature_2m_max":            []float64{20, 21, 22, 23, 24, 25, 26},
			"temperature_2m_min":            []float64{10, 11, 12, 13, 14, 15, 16},
			"precipitation_probability_max": []float64{5, 10, 15, 20, 25, 30, 35.4},
		},
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return data
}

type upstream struct {
	server *httptest.Server
	calls  atomic.Int32
	mu     sync.Mutex
	status int
	body   []byte
	query  map[string]string
}

func newUpstream(t *testing.T, body []byte) *upstream {
	t.Helper()
	u := &upstream{status: http.StatusOK, body: body}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		u.mu.Lock()
		defer u.mu.Unlock()
		u.query = map[string]string{"path": r.URL.Path}
		for k := range r.URL.Query() {
			u.query[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.status)
		_, _ = w.Write(u.body)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) fail(status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
}

func newClient(t *testing.T, u *upstream, clk *testingclock.FakePassiveClock, bus *eventbus.Bus) (*Client, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = u.server.URL
	cfg.CachePath = filepath.Join(t.TempDir(), "weather.json")
	cfg.Timeout = 2 * time.Second
	return New(cfg, bus, nil, clk), cfg.CachePath
}

func TestFetchAndNormalize(t *testing.T) {
	u := newUpstream(t, forecastBody(t, 48))
	bus := eventbus.New(nil)
	var events []protocol.WeatherUpdatedEvent
	bus.Subscribe(protocol.WeatherUpdated, func(p any) error {
		events = append(events, p.(protocol.WeatherUpdatedEvent))
		return nil
	})
	c, cachePath := newClient(t, u, testingclock.NewFakePassiveClock(now), bus)

	snap, err := c.GetWeather(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"path":            "/v1/forecast",
		"latitude":        "52.52",
		"longitude":       "13.405",
		"current_weather": "true",
		"hourly":          "temperature_2m,precipitation_probability,weathercode",
		"daily":           "weathercode,temperature_2m_max,temperature_2m_min,precipitation_probability_max",
		"timezone":        "auto",
		"forecast_days":   "7",
	}, u.query)

	assert.Equal(t, storage.CurrentWeather{Time: "2024-05-01T12:15", Temp: 17.4, Condition: "Partly cloudy", PrecipProb: 0}, snap.Current)

	// 17:00 local is hourly index 17
	assert.Equal(t, storage.HourForecast{Time: "2024-05-01T17:00", Temp: 17, Condition: "Slight rain", PrecipProb: 17}, snap.Forecast5h)

	require.Len(t, snap.WeeklyForecast, 7)
	assert.Equal(t, storage.DayForecast{Day: "Wed", Date: "2024-05-01", TempMin: 10, TempMax: 20, Condition: "Clear sky", PrecipProb: 5}, snap.WeeklyForecast[0])
	assert.Equal(t, "Tue", snap.WeeklyForecast[6].Day)
	assert.Equal(t, 35, snap.WeeklyForecast[6].PrecipProb)
	assert.Equal(t, "Thunderstorm with heavy hail", snap.WeeklyForecast[6].Condition)

	assert.True(t, snap.Updated.Equal(now))
	assert.Equal(t, storage.Location{Lat: 52.52, Lon: 13.405}, snap.Location)
	require.Len(t, events, 1)
	assert.FileExists(t, cachePath)
}

func TestCacheHitMakesNoRequest(t *testing.T) {
	u := newUpstream(t, forecastBody(t, 48))
	clk := testingclock.NewFakePassiveClock(now)

	cachePath := filepath.Join(t.TempDir(), "weather.json")
	cached := storage.WeatherSnapshot{
		Current:  storage.CurrentWeather{Temp: 9, Condition: "Fog"},
		Location: storage.Location{Lat: 52.52, Lon: 13.405},
		Updated:  storage.NewLocalTime(now.Add(-time.Hour)),
	}
	require.NoError(t, storage.WriteJSON(cachePath, cached))

	cfg := DefaultConfig()
	cfg.BaseURL = u.server.URL
	cfg.CachePath = cachePath
	c := New(cfg, nil, nil, clk)

	snap, err := c.GetWeather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Fog", snap.Current.Condition)
	assert.Zero(t, u.calls.Load())

	// past the interval it refreshes
	clk.SetTime(now.Add(5*time.Hour + time.Minute))
	_, err = c.GetWeather(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, u.calls.Load())
}

func TestCacheForOtherLocationIsIgnored(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "weather.json")
	require.NoError(t, storage.WriteJSON(cachePath, storage.WeatherSnapshot{
		Location: storage.Location{Lat: 48.14, Lon: 11.58},
		Updated:  storage.NewLocalTime(now),
	}))

	cfg := DefaultConfig()
	cfg.CachePath = cachePath
	c := New(cfg, nil, nil, testingclock.NewFakePassiveClock(now))
	_, ok := c.Snapshot()
	assert.False(t, ok)
	assert.True(t, c.Stale())
}

func TestFailureKeepsPreviousSnapshot(t *testing.T) {
	u := newUpstream(t, forecastBody(t, 48))
	clk := testingclock.NewFakePassiveClock(now)
	c, cachePath := newClient(t, u, clk, nil)

	first, err := c.GetWeather(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(cachePath)
	require.NoError(t, err)

	u.fail(http.StatusInternalServerError)
	clk.SetTime(now.Add(7 * time.Hour))
	snap, err := c.GetWeather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, snap)

	after, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	st := c.Status()
	assert.Contains(t, st.LastError, "500")
	assert.True(t, st.Stale)
	assert.True(t, st.LastAttempt.Equal(now.Add(7*time.Hour)))
}

func TestNoDataWithoutCache(t *testing.T) {
	u := newUpstream(t, []byte(`{"hourly": "nope"}`))
	c, _ := newClient(t, u, testingclock.NewFakePassiveClock(now), nil)

	_, err := c.GetWeather(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, err, errMalformed)
}

func TestUpdatedStrictlyAdvances(t *testing.T) {
	u := newUpstream(t, forecastBody(t, 48))
	clk := testingclock.NewFakePassiveClock(now)
	c, _ := newClient(t, u, clk, nil)

	require.NoError(t, c.Refresh(context.Background()))
	first, _ := c.Snapshot()
	require.NoError(t, c.Refresh(context.Background()))
	second, _ := c.Snapshot()
	assert.True(t, second.Updated.After(first.Updated.Time))
}

func TestSetLocationDropsSnapshot(t *testing.T) {
	u := newUpstream(t, forecastBody(t, 48))
	c, _ := newClient(t, u, testingclock.NewFakePassiveClock(now), nil)
	require.NoError(t, c.Refresh(context.Background()))

	c.SetLocation(52.521, 13.404)
	_, ok := c.Snapshot()
	assert.True(t, ok, "within tolerance")

	c.SetLocation(40.7, -74)
	_, ok = c.Snapshot()
	assert.False(t, ok)
}

func TestForecastIndexFallbacks(t *testing.T) {
	zone := time.FixedZone("", 7200)
	at := time.Date(2024, 5, 1, 12, 20, 0, 0, zone)
	hour := func(d, h int) string { return time.Date(2024, 5, d, h, 0, 0, 0, zone).Format(upstreamLayout) }

	tests := []struct {
		name  string
		times []string
		want  int
		ok    bool
	}{
		{"exact five hours", []string{hour(1, 12), hour(1, 17), hour(2, 12)}, 1, true},
		{"next day same hour", []string{hour(1, 12), hour(1, 16), hour(2, 12)}, 2, true},
		{"first future", []string{hour(1, 11), hour(1, 12), hour(1, 13), hour(1, 14)}, 2, true},
		{"only past", []string{hour(1, 10), hour(1, 12)}, 0, false},
		{"garbage skipped", []string{"yesterday", hour(1, 15)}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, ok := forecastIndex(tt.times, at)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, i)
			}
		})
	}
}

func TestCondition(t *testing.T) {
	assert.Equal(t, "Clear sky", Condition(0))
	assert.Equal(t, "Thunderstorm", Condition(95))
	assert.Equal(t, "Unknown", Condition(42))
}
