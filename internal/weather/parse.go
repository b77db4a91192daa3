package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/homeclock/clockd/internal/storage"
)

// upstreamLayout is the timestamp format of the forecast API
const upstreamLayout = "2006-01-02T15:04"

var errMalformed = errors.New("malformed forecast response")

type forecastResponse struct {
	UTCOffsetSeconds int `json:"utc_offset_seconds"`
	CurrentWeather   *struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
	Hourly struct {
		Time        []string  `json:"time"`
		Temperature []float64 `json:"temperature_2m"`
		PrecipProb  []float64 `json:"precipitation_probability"`
		WeatherCode []int     `json:"weathercode"`
	} `json:"hourly"`
	Daily struct {
		Time          []string  `json:"time"`
		WeatherCode   []int     `json:"weathercode"`
		TempMax       []float64 `json:"temperature_2m_max"`
		TempMin       []float64 `json:"temperature_2m_min"`
		PrecipProbMax []float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
}

// parseForecast normalizes an upstream response body taken at now
func parseForecast(body []byte, now time.Time) (storage.WeatherSnapshot, error) {
	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return storage.WeatherSnapshot{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if resp.CurrentWeather == nil {
		return storage.WeatherSnapshot{}, fmt.Errorf("%w: no current weather", errMalformed)
	}
	h := resp.Hourly
	if len(h.Temperature) < len(h.Time) || len(h.WeatherCode) < len(h.Time) {
		return storage.WeatherSnapshot{}, fmt.Errorf("%w: hourly arrays differ in length", errMalformed)
	}

	var snap storage.WeatherSnapshot
	snap.Current = storage.CurrentWeather{
		Time:       resp.CurrentWeather.Time,
		Temp:       resp.CurrentWeather.Temperature,
		Condition:  Condition(resp.CurrentWeather.WeatherCode),
		PrecipProb: at(h.PrecipProb, 0),
	}

	zone := time.FixedZone("", resp.UTCOffsetSeconds)
	if i, ok := forecastIndex(h.Time, now.In(zone)); ok {
		snap.Forecast5h = storage.HourForecast{
			Time:       h.Time[i],
			Temp:       h.Temperature[i],
			Condition:  Condition(h.WeatherCode[i]),
			PrecipProb: at(h.PrecipProb, i),
		}
	}

	d := resp.Daily
	for i, date := range d.Time {
		if i == 7 {
			break
		}
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return storage.WeatherSnapshot{}, fmt.Errorf("%w: daily date %q", errMalformed, date)
		}
		snap.WeeklyForecast = append(snap.WeeklyForecast, storage.DayForecast{
			Day:        storage.DayName(day.Weekday()),
			Date:       date,
			TempMin:    atFloat(d.TempMin, i),
			TempMax:    atFloat(d.TempMax, i),
			Condition:  Condition(atInt(d.WeatherCode, i)),
			PrecipProb: at(d.PrecipProbMax, i),
		})
	}
	return snap, nil
}

// forecastIndex picks the hourly entry five hours ahead on the hour, then
// the one 24 hours ahead, then the first entry after now
func forecastIndex(times []string, now time.Time) (int, bool) {
	parsed := make([]time.Time, len(times))
	for i, s := range times {
		t, err := time.ParseInLocation(upstreamLayout, s, now.Location())
		if err != nil {
			continue
		}
		parsed[i] = t
	}

	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	for _, ahead := range []time.Duration{5 * time.Hour, 24 * time.Hour} {
		want := hour.Add(ahead)
		for i, t := range parsed {
			if t.Equal(want) {
				return i, true
			}
		}
	}
	for i, t := range parsed {
		if !t.IsZero() && t.After(now) {
			return i, true
		}
	}
	return 0, false
}

func at(values []float64, i int) int {
	return int(math.Round(atFloat(values, i)))
}

func atFloat(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func atInt(values []int, i int) int {
	if i < len(values) {
		return values[i]
	}
	return -1
}
