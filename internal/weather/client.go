// Package weather fetches the Open-Meteo forecast for the configured
// location and keeps the last good snapshot cached on disk.
package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
)

// ErrNoData is returned when no snapshot is cached and the fetch failed
var ErrNoData = errors.New("no weather data available")

// locationTolerance is how far, in degrees, a cached snapshot may be from the
// configured location and still be used
const locationTolerance = 0.01

// Config holds client configuration
type Config struct {
	Lat            float64
	Lon            float64
	CachePath      string
	UpdateInterval time.Duration
	BaseURL        string
	Timeout        time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		Lat:            52.52,
		Lon:            13.405,
		CachePath:      "cache/weather.json",
		UpdateInterval: 6 * time.Hour,
		BaseURL:        "https://api.open-meteo.com",
		Timeout:        10 * time.Second,
	}
}

// Status reports cache freshness and the last fetch outcome
type Status struct {
	HasData     bool             `json:"has_data"`
	Updated     time.Time        `json:"updated,omitzero"`
	Stale       bool             `json:"stale"`
	LastAttempt time.Time        `json:"last_attempt,omitzero"`
	LastError   string           `json:"last_error,omitempty"`
	Location    storage.Location `json:"location"`
}

// Client is safe for concurrent use. Concurrent refreshes share one request.
type Client struct {
	config Config
	http   *resty.Client
	bus    *eventbus.Bus
	logger *zap.Logger
	clock  clock.PassiveClock
	group  singleflight.Group

	mu          sync.RWMutex
	snapshot    storage.WeatherSnapshot
	hasData     bool
	lastAttempt time.Time
	lastErr     error
}

// New creates a client and loads the cached snapshot. A cache for another
// location is ignored.
func New(config Config, bus *eventbus.Bus, logger *zap.Logger, clk clock.PassiveClock) *Client {
	def := DefaultConfig()
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = def.UpdateInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	c := &Client{
		config: config,
		http: resty.New().
			SetBaseURL(config.BaseURL).
			SetTimeout(config.Timeout).
			SetHeader("Accept", "application/json"),
		bus:    bus,
		logger: logging.OrNop(logger).Named("weather"),
		clock:  clk,
	}
	c.loadCache()
	return c
}

func (c *Client) loadCache() {
	if c.config.CachePath == "" {
		return
	}
	var snap storage.WeatherSnapshot
	if err := storage.ReadJSON(c.config.CachePath, &snap); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("Ignoring unreadable weather cache", zap.Error(err))
		}
		return
	}
	if snap.Updated.IsZero() {
		c.logger.Warn("Ignoring weather cache without timestamp")
		return
	}
	if !c.sameLocation(snap.Location) {
		c.logger.Info("Weather cache is for another location",
			zap.Float64("cached_lat", snap.Location.Lat), zap.Float64("cached_lon", snap.Location.Lon))
		return
	}
	c.snapshot = snap
	c.hasData = true
	c.logger.Debug("Loaded weather cache", zap.Stringer("updated", snap.Updated))
}

func (c *Client) sameLocation(loc storage.Location) bool {
	return math.Abs(loc.Lat-c.config.Lat) <= locationTolerance &&
		math.Abs(loc.Lon-c.config.Lon) <= locationTolerance
}

// SetLocation moves the client. A snapshot for the old location is dropped.
func (c *Client) SetLocation(lat, lon float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Lat, c.config.Lon = lat, lon
	if c.hasData && !c.sameLocation(c.snapshot.Location) {
		c.snapshot = storage.WeatherSnapshot{}
		c.hasData = false
	}
}

// Stale reports whether the snapshot is missing or older than UpdateInterval
func (c *Client) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.staleLocked(c.clock.Now())
}

func (c *Client) staleLocked(now time.Time) bool {
	return !c.hasData || now.Sub(c.snapshot.Updated.Time) > c.config.UpdateInterval
}

// Snapshot returns the cached snapshot without fetching
func (c *Client) Snapshot() (storage.WeatherSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Clone(), c.hasData
}

// GetWeather returns the snapshot, refreshing it first when stale. A failed
// refresh falls back to the previous snapshot; ErrNoData is returned only
// when there is none.
func (c *Client) GetWeather(ctx context.Context) (storage.WeatherSnapshot, error) {
	if c.Stale() {
		if err := c.Refresh(ctx); err != nil {
			if snap, ok := c.Snapshot(); ok {
				return snap, nil
			}
			return storage.WeatherSnapshot{}, fmt.Errorf("%w: %w", ErrNoData, err)
		}
	}
	snap, ok := c.Snapshot()
	if !ok {
		return storage.WeatherSnapshot{}, ErrNoData
	}
	return snap, nil
}

// Refresh fetches a new snapshot unconditionally. On failure the previous
// snapshot is kept.
func (c *Client) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.RLock()
	lat, lon := c.config.Lat, c.config.Lon
	c.mu.RUnlock()

	now := c.clock.Now()
	snap, err := c.fetch(ctx, lat, lon, now)

	c.mu.Lock()
	c.lastAttempt = now
	c.lastErr = err
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("Weather refresh failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	snap.Location = storage.Location{Lat: lat, Lon: lon}
	updated := storage.NewLocalTime(now)
	if c.hasData && !updated.After(c.snapshot.Updated.Time) {
		updated = storage.NewLocalTime(c.snapshot.Updated.Add(time.Second))
	}
	snap.Updated = updated
	c.snapshot = snap
	c.hasData = true
	c.mu.Unlock()

	if c.config.CachePath != "" {
		if err := storage.WriteJSON(c.config.CachePath, snap); err != nil {
			c.logger.Warn("Failed to write weather cache", zap.Error(err))
		}
	}

	c.logger.Info("Weather updated",
		zap.String("condition", snap.Current.Condition), zap.Float64("temp", snap.Current.Temp))
	c.bus.Publish(protocol.WeatherUpdated, protocol.WeatherUpdatedEvent{Updated: updated.Time})
	return nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64, now time.Time) (storage.WeatherSnapshot, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":        strconv.FormatFloat(lat, 'f', -1, 64),
			"longitude":       strconv.FormatFloat(lon, 'f', -1, 64),
			"current_weather": "true",
			"hourly":          "temperature_2m,precipitation_probability,weathercode",
			"daily":           "weathercode,temperature_2m_max,temperature_2m_min,precipitation_probability_max",
			"timezone":        "auto",
			"forecast_days":   "7",
		}).
		Get("/v1/forecast")
	if err != nil {
		return storage.WeatherSnapshot{}, fmt.Errorf("weather request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return storage.WeatherSnapshot{}, fmt.Errorf("weather request failed: %s", resp.Status())
	}
	return parseForecast(resp.Body(), now)
}

// Status reports freshness and the last fetch outcome
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		HasData:     c.hasData,
		Stale:       c.staleLocked(c.clock.Now()),
		LastAttempt: c.lastAttempt,
		Location:    storage.Location{Lat: c.config.Lat, Lon: c.config.Lon},
	}
	if c.hasData {
		st.Updated = c.snapshot.Updated.Time
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// UpdateInterval returns the configured freshness window
func (c *Client) UpdateInterval() time.Duration {
	return c.config.UpdateInterval
}
