// Package schedule keeps the weekly school timetable and answers which lesson
// is running or coming up.
package schedule

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
)

// LessonLength is how long a lesson runs from its start time
const LessonLength = 45 * time.Minute

var (
	// ErrUnknownDay is returned for a day key that is not a weekday
	ErrUnknownDay = errors.New("unknown day")
	// ErrLessonNotFound is returned when no lesson starts at the given time
	ErrLessonNotFound = errors.New("lesson not found")
)

// Store owns schedule.json
type Store struct {
	path   string
	bus    *eventbus.Bus
	logger *zap.Logger
	clock  clock.PassiveClock

	mu  sync.RWMutex
	doc storage.ScheduleDocument
}

// New loads the timetable. A missing file is written empty; a corrupt one
// yields an empty timetable in memory only.
func New(path string, bus *eventbus.Bus, logger *zap.Logger, clk clock.PassiveClock) (*Store, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Store{
		path:   path,
		bus:    bus,
		logger: logging.OrNop(logger).Named("schedule"),
		clock:  clk,
	}

	doc := storage.ScheduleDocument{Schedule: emptySchedule()}
	err := storage.ReadJSON(path, &doc)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		doc.LastUpdated = storage.NewLocalTime(clk.Now())
		if werr := storage.WriteJSON(path, doc); werr != nil {
			s.logger.Warn("Failed to write empty schedule", zap.Error(werr))
		}
	case errors.Is(err, storage.ErrCorrupt):
		s.logger.Warn("Schedule file corrupt, starting empty", zap.Error(err))
		doc = storage.ScheduleDocument{Schedule: emptySchedule()}
	default:
		return nil, err
	}

	s.doc = storage.ScheduleDocument{Schedule: normalize(doc.Schedule, s.logger), LastUpdated: doc.LastUpdated}
	return s, nil
}

func emptySchedule() storage.Schedule {
	out := make(storage.Schedule, len(storage.DayNames))
	for _, day := range storage.DayNames {
		out[day] = []storage.Lesson{}
	}
	return out
}

// normalize rekeys days to "Mon".."Sun", drops lessons with a bad time and
// sorts each day
func normalize(in storage.Schedule, logger *zap.Logger) storage.Schedule {
	out := emptySchedule()
	for key, lessons := range in {
		d, err := storage.ParseDay(key)
		if err != nil {
			logger.Warn("Ignoring unknown schedule day", zap.String("day", key))
			continue
		}
		day := storage.DayName(d)
		for _, l := range lessons {
			if _, _, err := storage.ParseClock(l.Time); err != nil {
				logger.Warn("Ignoring lesson with invalid time", zap.String("day", day), zap.String("time", l.Time))
				continue
			}
			out[day] = append(out[day], l)
		}
		out[day] = storage.SortLessons(out[day])
	}
	return out
}

func dayKey(day string) (string, error) {
	d, err := storage.ParseDay(day)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownDay, day)
	}
	return storage.DayName(d), nil
}

// GetSchedule returns a copy of the whole week
func (s *Store) GetSchedule() storage.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Schedule.Clone()
}

// LastUpdated returns when the timetable last changed
func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.LastUpdated.Time
}

// GetDay returns a copy of one day's lessons, sorted by time
func (s *Store) GetDay(day string) ([]storage.Lesson, error) {
	key, err := dayKey(day)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Lesson{}, s.doc.Schedule[key]...), nil
}

// SetDay replaces one day's lessons
func (s *Store) SetDay(day string, lessons []storage.Lesson) error {
	for _, l := range lessons {
		if _, _, err := storage.ParseClock(l.Time); err != nil {
			return err
		}
	}
	return s.mutate(day, func([]storage.Lesson) []storage.Lesson {
		return append([]storage.Lesson{}, lessons...)
	})
}

// AddLesson inserts a lesson, replacing any lesson at the same time
func (s *Store) AddLesson(day string, lesson storage.Lesson) error {
	if _, _, err := storage.ParseClock(lesson.Time); err != nil {
		return err
	}
	return s.mutate(day, func(cur []storage.Lesson) []storage.Lesson {
		return append(cur, lesson)
	})
}

// RemoveLesson deletes the lesson starting at hhmm
func (s *Store) RemoveLesson(day, hhmm string) error {
	lessons, err := s.GetDay(day)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(lessons, func(l storage.Lesson) bool { return l.Time == hhmm }) {
		return fmt.Errorf("%w: %s %s", ErrLessonNotFound, day, hhmm)
	}
	return s.mutate(day, func(cur []storage.Lesson) []storage.Lesson {
		return slices.DeleteFunc(cur, func(l storage.Lesson) bool { return l.Time == hhmm })
	})
}

// ClearDay removes all lessons of a day
func (s *Store) ClearDay(day string) error {
	return s.mutate(day, func([]storage.Lesson) []storage.Lesson { return []storage.Lesson{} })
}

// mutate applies fn to a copy of the day, persists the document and
// publishes the new timetable. The change stays in memory if the write fails.
func (s *Store) mutate(day string, fn func([]storage.Lesson) []storage.Lesson) error {
	key, err := dayKey(day)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cur := append([]storage.Lesson{}, s.doc.Schedule[key]...)
	s.doc.Schedule[key] = storage.SortLessons(fn(cur))
	s.doc.LastUpdated = storage.NewLocalTime(s.clock.Now())
	err = storage.WriteJSON(s.path, s.doc)
	snapshot := s.doc.Schedule.Clone()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Failed to persist schedule", zap.Error(err))
	}
	s.bus.Publish(protocol.ScheduleUpdated, protocol.ScheduleUpdatedEvent{Schedule: snapshot})
	return err
}

// CurrentLesson returns the lesson running at now
func (s *Store) CurrentLesson(now time.Time) (storage.Lesson, bool) {
	for _, l := range s.today(now) {
		begin := at(now, l.Time)
		if !now.Before(begin) && now.Before(begin.Add(LessonLength)) {
			return l, true
		}
	}
	return storage.Lesson{}, false
}

// NextLesson returns the first lesson of today starting after now
func (s *Store) NextLesson(now time.Time) (storage.Lesson, bool) {
	for _, l := range s.today(now) {
		if at(now, l.Time).After(now) {
			return l, true
		}
	}
	return storage.Lesson{}, false
}

func (s *Store) today(now time.Time) []storage.Lesson {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Lesson(nil), s.doc.Schedule[storage.DayName(now.Weekday())]...)
}

func at(now time.Time, hhmm string) time.Time {
	hour, minute, _ := storage.ParseClock(hhmm)
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
}
