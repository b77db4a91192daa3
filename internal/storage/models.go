// Package storage provides JSON file persistence for the clock: atomic
// document writes, tolerant reads, and the records kept on disk.
package storage

import "sort"

// Location is a latitude/longitude pair in decimal degrees
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// --- Alarm ---

// Alarm is the single configured wake-up alarm
type Alarm struct {
	Enabled  bool     `json:"enabled"`
	Time     string   `json:"time"`   // "HH:MM", local
	Repeat   Weekdays `json:"repeat"` // empty means one-shot
	Ringtone string   `json:"ringtone"`
	FadeIn   bool     `json:"fade_in"`
}

// AlarmDocument is the layout of alarm.json
type AlarmDocument struct {
	Alarm Alarm `json:"alarm"`
}

// DefaultAlarm returns the alarm written on first start
func DefaultAlarm() Alarm {
	return Alarm{
		Enabled:  false,
		Time:     "07:00",
		Repeat:   WorkWeek,
		Ringtone: "default.mp3",
		FadeIn:   false,
	}
}

// --- Schedule ---

// Lesson is one timetable entry
type Lesson struct {
	Time    string `json:"time"` // "HH:MM", local
	Subject string `json:"subject"`
	Room    string `json:"room,omitempty"`
	Teacher string `json:"teacher,omitempty"`
}

// Schedule maps a day key ("Mon".."Sun") to lessons sorted by time
type Schedule map[string][]Lesson

// Clone returns a deep copy
func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	for day, lessons := range s {
		out[day] = append([]Lesson(nil), lessons...)
	}
	return out
}

// SortLessons orders lessons by start time and keeps the last entry for a
// duplicated time
func SortLessons(lessons []Lesson) []Lesson {
	byTime := make(map[string]int, len(lessons))
	out := make([]Lesson, 0, len(lessons))
	for _, l := range lessons {
		if i, ok := byTime[l.Time]; ok {
			out[i] = l
			continue
		}
		byTime[l.Time] = len(out)
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// ScheduleDocument is the layout of schedule.json
type ScheduleDocument struct {
	Schedule    Schedule  `json:"schedule"`
	LastUpdated LocalTime `json:"last_updated"`
}

// --- Pet care ---

// CareItem is one recurring pet-care task with a depleting bar
type CareItem struct {
	Label       string    `json:"label"`
	MaxHours    float64   `json:"max_hours"`
	LastReset   LocalTime `json:"last_reset"`
	Description string    `json:"description,omitempty"`
}

// Pig is an entry of the pet roster
type Pig struct {
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Birthday string `json:"birthday,omitempty"`
}

// CareSettings holds the reminder thresholds in percent
type CareSettings struct {
	ReminderThreshold float64 `json:"reminder_threshold"`
	CriticalThreshold float64 `json:"critical_threshold"`
}

// PetCareDocument is the layout of pigs.json
type PetCareDocument struct {
	Pigs      []Pig               `json:"pigs"`
	CareItems map[string]CareItem `json:"care_items"`
	Settings  CareSettings        `json:"settings"`
}

// --- Weather ---

// CurrentWeather is the observation at fetch time
type CurrentWeather struct {
	Time       string  `json:"time"`
	Temp       float64 `json:"temp"`
	Condition  string  `json:"condition"`
	PrecipProb int     `json:"precip_prob"`
}

// HourForecast is a single hourly forecast entry
type HourForecast struct {
	Time       string  `json:"time"`
	Temp       float64 `json:"temp"`
	Condition  string  `json:"condition"`
	PrecipProb int     `json:"precip_prob"`
}

// DayForecast is one day of the weekly outlook
type DayForecast struct {
	Day        string  `json:"day"` // "Mon".."Sun"
	Date       string  `json:"date"`
	TempMin    float64 `json:"temp_min"`
	TempMax    float64 `json:"temp_max"`
	Condition  string  `json:"condition"`
	PrecipProb int     `json:"precip_prob"`
}

// WeatherSnapshot is the cached result of the last successful fetch
type WeatherSnapshot struct {
	Current        CurrentWeather `json:"current"`
	Forecast5h     HourForecast   `json:"forecast_5h"`
	WeeklyForecast []DayForecast  `json:"weekly_forecast"`
	Location       Location       `json:"location"`
	Updated        LocalTime      `json:"updated"`
}

// Clone returns a deep copy
func (w WeatherSnapshot) Clone() WeatherSnapshot {
	w.WeeklyForecast = append([]DayForecast(nil), w.WeeklyForecast...)
	return w
}
