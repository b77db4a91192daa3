// Package appstate holds the authoritative in-memory copy of user-visible
// state. Persisted keys are written through the settings store and every
// change is announced on the event bus.
package appstate

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/settings"
	"github.com/homeclock/clockd/internal/storage"
)

// Theme variants
const (
	VariantLight = "light"
	VariantDark  = "dark"
)

// ErrInvalidVariant is returned for a variant other than light or dark
var ErrInvalidVariant = errors.New("variant must be light or dark")

// SettingsStore is the persistence the state writes through to
type SettingsStore interface {
	Settings() settings.UserSettings
	Update(values map[string]any) error
}

// Snapshot is a copy of the state at one point in time
type Snapshot struct {
	Username             string                  `json:"username"`
	Birthday             *string                 `json:"birthday"`
	Theme                string                  `json:"theme"`
	Variant              string                  `json:"variant"`
	Language             string                  `json:"language"`
	Location             storage.Location        `json:"location"`
	AutoThemeEnabled     bool                    `json:"auto_theme_enabled"`
	LightSensorThreshold int                     `json:"light_sensor_threshold"`
	Volume               int                     `json:"volume"`
	Screen               string                  `json:"screen"`
	Notifications        []protocol.Notification `json:"notifications"`
	MediaFiles           []string                `json:"media_files"`
	SensorData           map[string]any          `json:"sensor_data"`
}

func (s Snapshot) clone() Snapshot {
	if s.Birthday != nil {
		b := *s.Birthday
		s.Birthday = &b
	}
	s.Notifications = append([]protocol.Notification(nil), s.Notifications...)
	s.MediaFiles = append([]string(nil), s.MediaFiles...)
	if s.SensorData != nil {
		data := make(map[string]any, len(s.SensorData))
		for k, v := range s.SensorData {
			data[k] = v
		}
		s.SensorData = data
	}
	return s
}

// State is safe for concurrent use
type State struct {
	store  SettingsStore
	bus    *eventbus.Bus
	logger *zap.Logger
	clock  clock.PassiveClock

	mu    sync.RWMutex
	state Snapshot
}

// New seeds the state from the persisted settings
func New(store SettingsStore, bus *eventbus.Bus, logger *zap.Logger, clk clock.PassiveClock) *State {
	if clk == nil {
		clk = clock.RealClock{}
	}
	us := store.Settings()
	return &State{
		store:  store,
		bus:    bus,
		logger: logging.OrNop(logger).Named("appstate"),
		clock:  clk,
		state: Snapshot{
			Username:             us.Username,
			Birthday:             us.Birthday,
			Theme:                us.Theme,
			Variant:              us.Variant,
			Language:             us.Language,
			Location:             us.Location,
			AutoThemeEnabled:     us.AutoThemeEnabled,
			LightSensorThreshold: clampThreshold(us.LightSensorThreshold),
			Volume:               clampVolume(us.Volume),
			Screen:               "home",
			SensorData:           map[string]any{},
		},
	}
}

// Snapshot returns a deep copy of the current state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Theme returns the current theme and variant
func (s *State) Theme() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Theme, s.state.Variant
}

// --- Persisted settings ---

// SetTheme switches the theme keeping the current variant
func (s *State) SetTheme(theme string) error {
	s.mu.Lock()
	if s.state.Theme == theme {
		s.mu.Unlock()
		return nil
	}
	s.state.Theme = theme
	variant := s.state.Variant
	s.mu.Unlock()

	err := s.persist(map[string]any{settings.KeyTheme: theme})
	s.bus.Publish(protocol.ThemeChanged, protocol.ThemeChangedEvent{Theme: theme, Variant: variant})
	return err
}

// SetVariant switches between the light and dark variant
func (s *State) SetVariant(variant string) error {
	if variant != VariantLight && variant != VariantDark {
		return fmt.Errorf("%w: %q", ErrInvalidVariant, variant)
	}

	s.mu.Lock()
	if s.state.Variant == variant {
		s.mu.Unlock()
		return nil
	}
	s.state.Variant = variant
	theme := s.state.Theme
	s.mu.Unlock()

	err := s.persist(map[string]any{settings.KeyVariant: variant})
	s.bus.Publish(protocol.ThemeChanged, protocol.ThemeChangedEvent{Theme: theme, Variant: variant})
	return err
}

// SetLanguage changes the UI language
func (s *State) SetLanguage(language string) error {
	s.mu.Lock()
	if s.state.Language == language {
		s.mu.Unlock()
		return nil
	}
	s.state.Language = language
	s.mu.Unlock()

	err := s.persist(map[string]any{settings.KeyLanguage: language})
	s.bus.Publish(protocol.LanguageChanged, protocol.LanguageChangedEvent{Language: language})
	return err
}

// SetVolume records the output volume, clamped to [0,100]
func (s *State) SetVolume(volume int) error {
	volume = clampVolume(volume)

	s.mu.Lock()
	if s.state.Volume == volume {
		s.mu.Unlock()
		return nil
	}
	s.state.Volume = volume
	s.mu.Unlock()

	err := s.persist(map[string]any{settings.KeyVolume: volume})
	s.bus.Publish(protocol.VolumeChanged, protocol.VolumeChangedEvent{Volume: volume})
	return err
}

// SetUsername stores the child's name
func (s *State) SetUsername(name string) error {
	s.mu.Lock()
	if s.state.Username == name {
		s.mu.Unlock()
		return nil
	}
	s.state.Username = name
	s.mu.Unlock()
	return s.persist(map[string]any{settings.KeyUsername: name})
}

// SetBirthday stores an ISO date ("2006-01-02"); empty clears it
func (s *State) SetBirthday(date string) error {
	var birthday *string
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("invalid birthday %q: %w", date, err)
		}
		birthday = &date
	}

	s.mu.Lock()
	if reflect.DeepEqual(s.state.Birthday, birthday) {
		s.mu.Unlock()
		return nil
	}
	s.state.Birthday = birthday
	s.mu.Unlock()
	return s.persist(map[string]any{settings.KeyBirthday: birthday})
}

// SetLocation stores the weather location
func (s *State) SetLocation(loc storage.Location) error {
	s.mu.Lock()
	if s.state.Location == loc {
		s.mu.Unlock()
		return nil
	}
	s.state.Location = loc
	s.mu.Unlock()
	return s.persist(map[string]any{settings.KeyLocation: loc})
}

// SetAutoTheme enables or disables the light-sensor theme switch and sets its
// threshold in seconds, clamped to [1,10]
func (s *State) SetAutoTheme(enabled bool, thresholdSeconds int) error {
	thresholdSeconds = clampThreshold(thresholdSeconds)

	s.mu.Lock()
	if s.state.AutoThemeEnabled == enabled && s.state.LightSensorThreshold == thresholdSeconds {
		s.mu.Unlock()
		return nil
	}
	s.state.AutoThemeEnabled = enabled
	s.state.LightSensorThreshold = thresholdSeconds
	s.mu.Unlock()

	err := s.persist(map[string]any{
		settings.KeyAutoThemeEnabled:     enabled,
		settings.KeyLightSensorThreshold: thresholdSeconds,
	})
	s.bus.Publish(protocol.AutoThemeChanged, protocol.AutoThemeChangedEvent{
		Enabled:          enabled,
		ThresholdSeconds: thresholdSeconds,
	})
	return err
}

// --- Runtime state ---

// SetScreen records the page the UI shows
func (s *State) SetScreen(page string) {
	s.mu.Lock()
	if s.state.Screen == page {
		s.mu.Unlock()
		return
	}
	s.state.Screen = page
	s.mu.Unlock()
	s.bus.Publish(protocol.ScreenChanged, protocol.ScreenChangedEvent{Page: page})
}

// SetNotifications replaces the notification list
func (s *State) SetNotifications(list []protocol.Notification) {
	s.mu.Lock()
	if reflect.DeepEqual(s.state.Notifications, list) {
		s.mu.Unlock()
		return
	}
	s.state.Notifications = append([]protocol.Notification(nil), list...)
	out := append([]protocol.Notification(nil), list...)
	s.mu.Unlock()
	s.bus.Publish(protocol.NotificationsUpdated, protocol.NotificationsUpdatedEvent{Notifications: out})
}

// AddNotification appends a notification and returns its id
func (s *State) AddNotification(title, message string) string {
	n := protocol.Notification{
		ID:      uuid.NewString(),
		Title:   title,
		Message: message,
		Created: s.clock.Now(),
	}

	s.mu.Lock()
	s.state.Notifications = append(s.state.Notifications, n)
	out := append([]protocol.Notification(nil), s.state.Notifications...)
	s.mu.Unlock()

	s.bus.Publish(protocol.NotificationsUpdated, protocol.NotificationsUpdatedEvent{Notifications: out})
	return n.ID
}

// DismissNotification removes a notification by id
func (s *State) DismissNotification(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, n := range s.state.Notifications {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	next := make([]protocol.Notification, 0, len(s.state.Notifications)-1)
	next = append(next, s.state.Notifications[:idx]...)
	next = append(next, s.state.Notifications[idx+1:]...)
	s.state.Notifications = next
	out := append([]protocol.Notification(nil), next...)
	s.mu.Unlock()

	s.bus.Publish(protocol.NotificationsUpdated, protocol.NotificationsUpdatedEvent{Notifications: out})
	return true
}

// SetMediaFiles replaces the list of known media files
func (s *State) SetMediaFiles(files []string) {
	s.mu.Lock()
	if reflect.DeepEqual(s.state.MediaFiles, files) {
		s.mu.Unlock()
		return
	}
	s.state.MediaFiles = append([]string(nil), files...)
	out := append([]string(nil), files...)
	s.mu.Unlock()
	s.bus.Publish(protocol.MediaFilesUpdated, protocol.MediaFilesUpdatedEvent{MediaFiles: out})
}

// SetSensorData merges the latest readings of one sensor source
func (s *State) SetSensorData(data map[string]any) {
	s.mu.Lock()
	changed := false
	for k, v := range data {
		if cur, ok := s.state.SensorData[k]; ok && reflect.DeepEqual(cur, v) {
			continue
		}
		s.state.SensorData[k] = v
		changed = true
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	out := make(map[string]any, len(s.state.SensorData))
	for k, v := range s.state.SensorData {
		out[k] = v
	}
	s.mu.Unlock()
	s.bus.Publish(protocol.SensorDataUpdated, protocol.SensorDataUpdatedEvent{SensorData: out})
}

// ObserveThemeChanged adopts a variant chosen by another service. It is an
// eventbus.Handler and does not publish.
func (s *State) ObserveThemeChanged(payload any) error {
	ev, ok := payload.(protocol.ThemeChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", protocol.ThemeChanged, payload)
	}
	if ev.Variant != VariantLight && ev.Variant != VariantDark {
		return fmt.Errorf("%w: %q", ErrInvalidVariant, ev.Variant)
	}

	s.mu.Lock()
	if s.state.Variant == ev.Variant {
		s.mu.Unlock()
		return nil
	}
	s.state.Variant = ev.Variant
	s.mu.Unlock()

	return s.persist(map[string]any{settings.KeyVariant: ev.Variant})
}

func (s *State) persist(values map[string]any) error {
	if err := s.store.Update(values); err != nil {
		s.logger.Warn("Failed to persist settings", zap.Error(err))
		return err
	}
	return nil
}

func clampVolume(v int) int {
	return min(max(v, 0), 100)
}

func clampThreshold(v int) int {
	return min(max(v, 1), 10)
}
