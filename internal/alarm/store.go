// Package alarm keeps the persisted wake-up alarm and rings it at the
// configured minute.
package alarm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
)

// ErrInvalidTime is returned for an alarm time that is not "HH:MM"
var ErrInvalidTime = errors.New("invalid alarm time")

// Store persists the alarm to alarm.json
type Store struct {
	path   string
	bus    *eventbus.Bus
	logger *zap.Logger

	mu    sync.RWMutex
	alarm storage.Alarm
}

// NewStore loads the alarm. A missing file is written with defaults; a
// corrupt file yields defaults and is left untouched.
func NewStore(path string, bus *eventbus.Bus, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		bus:    bus,
		logger: logging.OrNop(logger).Named("alarm"),
	}

	doc := storage.AlarmDocument{Alarm: storage.DefaultAlarm()}
	err := storage.ReadJSON(path, &doc)
	switch {
	case err == nil:
		if _, _, terr := storage.ParseClock(doc.Alarm.Time); terr != nil {
			s.logger.Warn("Stored alarm time invalid, using default", zap.String("time", doc.Alarm.Time))
			doc.Alarm.Time = storage.DefaultAlarm().Time
		}
	case errors.Is(err, storage.ErrNotFound):
		if werr := storage.WriteJSON(path, doc); werr != nil {
			s.logger.Warn("Failed to write default alarm", zap.Error(werr))
		}
	case errors.Is(err, storage.ErrCorrupt):
		s.logger.Warn("Alarm file corrupt, using defaults", zap.Error(err))
		doc = storage.AlarmDocument{Alarm: storage.DefaultAlarm()}
	default:
		return nil, err
	}

	s.alarm = doc.Alarm
	return s, nil
}

// Get returns the current alarm
func (s *Store) Get() storage.Alarm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alarm
}

// Set replaces the alarm
func (s *Store) Set(a storage.Alarm) error {
	return s.Update(func(cur *storage.Alarm) { *cur = a })
}

// Update applies fn to a copy of the alarm, validates, persists and
// publishes the result. Memory keeps the new value even when the write fails.
func (s *Store) Update(fn func(*storage.Alarm)) error {
	s.mu.Lock()
	next := s.alarm
	fn(&next)
	if _, _, err := storage.ParseClock(next.Time); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	if next == s.alarm {
		s.mu.Unlock()
		return nil
	}
	s.alarm = next
	err := storage.WriteJSON(s.path, storage.AlarmDocument{Alarm: next})
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Failed to persist alarm", zap.Error(err))
	}
	s.bus.Publish(protocol.AlarmUpdated, protocol.AlarmUpdatedEvent{Alarm: next})
	return err
}

// Enable turns the alarm on or off
func (s *Store) Enable(enabled bool) error {
	return s.Update(func(a *storage.Alarm) { a.Enabled = enabled })
}

// SetTime sets the ring time as "HH:MM"
func (s *Store) SetTime(hhmm string) error {
	return s.Update(func(a *storage.Alarm) { a.Time = hhmm })
}

// SetRepeatDays sets the weekdays; none makes the alarm one-shot
func (s *Store) SetRepeatDays(days ...time.Weekday) error {
	repeat := storage.NewWeekdays(days...)
	return s.Update(func(a *storage.Alarm) { a.Repeat = repeat })
}

// SetRingtone sets the ringtone file name
func (s *Store) SetRingtone(name string) error {
	return s.Update(func(a *storage.Alarm) { a.Ringtone = name })
}

// SetFadeIn toggles the volume ramp when ringing
func (s *Store) SetFadeIn(fade bool) error {
	return s.Update(func(a *storage.Alarm) { a.FadeIn = fade })
}

// Matches reports whether a rings at now: enabled, same "HH:MM" and, when
// repeat days are set, one of them
func Matches(a storage.Alarm, now time.Time) bool {
	if !a.Enabled {
		return false
	}
	if now.Format("15:04") != a.Time {
		return false
	}
	return a.Repeat.Empty() || a.Repeat.Has(now.Weekday())
}

// NextTrigger returns the next time after now the alarm rings, or the zero
// time when it is disabled or invalid
func NextTrigger(a storage.Alarm, now time.Time) time.Time {
	if !a.Enabled {
		return time.Time{}
	}
	hour, minute, err := storage.ParseClock(a.Time)
	if err != nil {
		return time.Time{}
	}
	for d := 0; d <= 7; d++ {
		day := now.AddDate(0, 0, d)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			continue
		}
		if a.Repeat.Empty() || a.Repeat.Has(candidate.Weekday()) {
			return candidate
		}
	}
	return time.Time{}
}
