// Package settings is the persisted user configuration: a JSON key/value
// document with canonical defaults, coalesced writes and atomic replace.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/storage"
)

// Keys of the user settings document
const (
	KeyUsername             = "username"
	KeyBirthday             = "birthday"
	KeyTheme                = "theme"
	KeyVariant              = "variant"
	KeyLanguage             = "language"
	KeyLocation             = "location"
	KeyAutoThemeEnabled     = "auto_theme_enabled"
	KeyLightSensorThreshold = "light_sensor_threshold"
	KeyVolume               = "volume"
)

// UserSettings is the typed view of the document
type UserSettings struct {
	Username             string           `json:"username"`
	Birthday             *string          `json:"birthday"`
	Theme                string           `json:"theme"`
	Variant              string           `json:"variant"`
	Language             string           `json:"language"`
	Location             storage.Location `json:"location"`
	AutoThemeEnabled     bool             `json:"auto_theme_enabled"`
	LightSensorThreshold int              `json:"light_sensor_threshold"`
	Volume               int              `json:"volume"`
}

// Defaults returns the canonical settings schema
func Defaults() UserSettings {
	return UserSettings{
		Username:             "",
		Birthday:             nil,
		Theme:                "default",
		Variant:              "light",
		Language:             "en",
		Location:             storage.Location{Lat: 52.52, Lon: 13.405},
		AutoThemeEnabled:     false,
		LightSensorThreshold: 3,
		Volume:               50,
	}
}

// Config holds store configuration
type Config struct {
	Path        string
	MinInterval time.Duration // minimum gap between two writes
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{
		Path:        "config/user_config.json",
		MinInterval: 500 * time.Millisecond,
	}
}

// Store holds the settings in memory and writes them through to disk
type Store struct {
	config Config
	logger *zap.Logger
	clock  clock.WithDelayedExecution

	// writeMu serializes disk writes; mu guards everything below
	writeMu   sync.Mutex
	mu        sync.Mutex
	data      map[string]any
	dirty     bool
	lastWrite time.Time
	timer     clock.Timer
	writes    int
}

// New loads the settings document.
//
// A missing file is created from defaults. A corrupt file is logged and
// replaced in memory by defaults; it stays on disk untouched until the next
// successful mutation.
func New(config Config, logger *zap.Logger, clk clock.WithDelayedExecution) (*Store, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if config.MinInterval < 0 {
		config.MinInterval = 0
	}

	defaults, err := normalize(Defaults())
	if err != nil {
		return nil, err
	}

	s := &Store{
		config: config,
		logger: logging.OrNop(logger).Named("settings"),
		clock:  clk,
		data:   defaults.(map[string]any),
	}

	var loaded map[string]any
	err = storage.ReadJSON(config.Path, &loaded)
	switch {
	case err == nil:
		for k, v := range loaded {
			s.data[k] = v
		}
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("Settings file missing, writing defaults", zap.String("path", config.Path))
		s.dirty = true
		if err := s.flush(true); err != nil {
			s.logger.Warn("Failed to write default settings", zap.Error(err))
		}
	case errors.Is(err, storage.ErrCorrupt):
		s.logger.Warn("Settings file corrupt, using defaults", zap.Error(err))
	default:
		return nil, err
	}

	return s, nil
}

// Get returns the value stored under key
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// GetString returns a string value or def
func (s *Store) GetString(key, def string) string {
	if v, ok := s.Get(key); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

// GetInt returns a numeric value truncated to int, or def
func (s *Store) GetInt(key string, def int) int {
	if v, ok := s.Get(key); ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return def
}

// GetFloat returns a numeric value or def
func (s *Store) GetFloat(key string, def float64) float64 {
	if v, ok := s.Get(key); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// GetBool returns a boolean value or def
func (s *Store) GetBool(key string, def bool) bool {
	if v, ok := s.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// All returns a deep copy of the document
func (s *Store) All() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(s.data).(map[string]any)
}

// Settings decodes the document into the typed view. Keys holding values of
// the wrong type fall back to their defaults.
func (s *Store) Settings() UserSettings {
	out := Defaults()
	for key, value := range s.All() {
		data, err := json.Marshal(map[string]any{key: value})
		if err != nil {
			continue
		}
		next := out
		if err := json.Unmarshal(data, &next); err != nil {
			s.logger.Warn("Setting does not match schema, using default",
				zap.String("key", key), zap.Error(err))
			continue
		}
		out = next
	}
	return out
}

// Set stores value under key. It is a no-op when the stored value is equal.
func (s *Store) Set(key string, value any) error {
	return s.Update(map[string]any{key: value})
}

// Update stores several keys with a single write
func (s *Store) Update(values map[string]any) error {
	normalized := make(map[string]any, len(values))
	for k, v := range values {
		n, err := normalize(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", k, err)
		}
		normalized[k] = n
	}

	s.mu.Lock()
	changed := false
	for k, v := range normalized {
		if cur, ok := s.data[k]; ok && reflect.DeepEqual(cur, v) {
			continue
		}
		s.data[k] = v
		changed = true
	}
	if changed {
		s.dirty = true
	}
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.commit()
}

// Flush writes pending changes immediately, ignoring the write interval
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.flush(true)
}

// Close cancels any deferred write and flushes pending changes
func (s *Store) Close() error {
	return s.Flush()
}

// commit writes now when the interval since the last write has passed,
// otherwise makes sure exactly one deferred write is pending.
func (s *Store) commit() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.mu.Unlock()
		return nil
	}
	wait := s.lastWrite.Add(s.config.MinInterval).Sub(s.clock.Now())
	if wait > 0 {
		s.timer = s.clock.AfterFunc(wait, s.deferredFlush)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.flush(false)
}

func (s *Store) deferredFlush() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if err := s.flush(false); err != nil {
		s.logger.Warn("Deferred settings write failed", zap.Error(err))
	}
}

// flush writes the document. Unless forced, a write that would land inside
// the interval of the previous one is deferred instead.
func (s *Store) flush(force bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	if !force {
		if wait := s.lastWrite.Add(s.config.MinInterval).Sub(s.clock.Now()); wait > 0 {
			if s.timer == nil {
				s.timer = s.clock.AfterFunc(wait, s.deferredFlush)
			}
			s.mu.Unlock()
			return nil
		}
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	s.dirty = false
	s.mu.Unlock()

	err = storage.WriteFileAtomic(s.config.Path, append(data, '\n'))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.dirty = true
		s.logger.Warn("Failed to write settings", zap.String("path", s.config.Path), zap.Error(err))
		return err
	}
	s.lastWrite = s.clock.Now()
	s.writes++
	return nil
}

// normalize round-trips v through JSON so that equal documents compare equal
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
