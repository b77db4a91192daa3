// Package protocol defines the events published on the clock's event bus:
// the topic names and the payload carried by each.
package protocol

import (
	"time"

	"github.com/homeclock/clockd/internal/storage"
)

// Event topics
const (
	ThemeChanged         = "theme_changed"
	LanguageChanged      = "language_changed"
	VolumeChanged        = "volume_changed"
	AlarmUpdated         = "alarm_updated"
	AlarmChanged         = "alarm_changed"
	ScheduleUpdated      = "schedule_updated"
	SensorDataUpdated    = "sensor_data_updated"
	NotificationsUpdated = "notifications_updated"
	MediaFilesUpdated    = "media_files_updated"
	ScreenChanged        = "screen_changed"
	AutoThemeChanged     = "auto_theme_changed"
	WeatherUpdated       = "weather_updated"
	CareUpdated          = "care_updated"
)

// Alarm runtime states carried by AlarmChangedEvent
const (
	AlarmRinging = "ringing"
	AlarmSnoozed = "snoozed"
	AlarmStopped = "stopped"
)

// ThemeChangedEvent announces a new theme or light/dark variant
type ThemeChangedEvent struct {
	Theme   string `json:"theme"`
	Variant string `json:"variant"`
}

// LanguageChangedEvent announces a new UI language
type LanguageChangedEvent struct {
	Language string `json:"language"`
}

// VolumeChangedEvent carries the new output volume in percent
type VolumeChangedEvent struct {
	Volume int `json:"volume"`
}

// AlarmUpdatedEvent is published when the persisted alarm settings change
type AlarmUpdatedEvent struct {
	Alarm storage.Alarm `json:"alarm"`
}

// AlarmChangedEvent is published on ring, snooze and stop
type AlarmChangedEvent struct {
	State       string    `json:"state"`
	SnoozeUntil time.Time `json:"snooze_until,omitzero"`
	RingID      string    `json:"ring_id,omitempty"`
}

// ScheduleUpdatedEvent carries the full schedule after a change
type ScheduleUpdatedEvent struct {
	Schedule storage.Schedule `json:"schedule"`
}

// SensorDataUpdatedEvent carries the latest sensor readings by name
type SensorDataUpdatedEvent struct {
	SensorData map[string]any `json:"sensor_data"`
}

// Notification is a short message shown to the user
type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}

// NotificationsUpdatedEvent carries the active notification list
type NotificationsUpdatedEvent struct {
	Notifications []Notification `json:"notifications"`
}

// MediaFilesUpdatedEvent carries the known media file paths
type MediaFilesUpdatedEvent struct {
	MediaFiles []string `json:"media_files"`
}

// ScreenChangedEvent announces navigation to a page
type ScreenChangedEvent struct {
	Page string `json:"page"`
}

// AutoThemeChangedEvent is published when the automatic theme setting or its
// threshold changes
type AutoThemeChangedEvent struct {
	Enabled          bool `json:"enabled"`
	ThresholdSeconds int  `json:"threshold_seconds"`
}

// WeatherUpdatedEvent is published after a successful weather refresh
type WeatherUpdatedEvent struct {
	Updated time.Time `json:"updated"`
}

// CareUpdatedEvent is published when a pet-care bar is reset
type CareUpdatedEvent struct {
	Item string `json:"item"`
}
