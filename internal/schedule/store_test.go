package schedule

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
)

var monday = time.Date(2024, 4, 29, 7, 0, 0, 0, time.Local)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.json")
	s, err := New(path, nil, nil, testingclock.NewFakePassiveClock(monday))
	require.NoError(t, err)
	return s, path
}

func TestMissingFileIsCreatedEmpty(t *testing.T) {
	s, path := newStore(t)
	assert.FileExists(t, path)

	week := s.GetSchedule()
	assert.Len(t, week, 7)
	for _, day := range storage.DayNames {
		assert.Empty(t, week[day], day)
	}
	assert.True(t, s.LastUpdated().Equal(monday))
}

func TestLessonsStaySortedAndUnique(t *testing.T) {
	s, path := newStore(t)

	require.NoError(t, s.AddLesson("Mon", storage.Lesson{Time: "09:50", Subject: "Math"}))
	require.NoError(t, s.AddLesson("monday", storage.Lesson{Time: "08:00", Subject: "German"}))
	require.NoError(t, s.AddLesson("MON", storage.Lesson{Time: "09:50", Subject: "Music", Room: "A1"}))

	lessons, err := s.GetDay("Mon")
	require.NoError(t, err)
	assert.Equal(t, []storage.Lesson{
		{Time: "08:00", Subject: "German"},
		{Time: "09:50", Subject: "Music", Room: "A1"},
	}, lessons)

	reloaded, err := New(path, nil, nil, testingclock.NewFakePassiveClock(monday))
	require.NoError(t, err)
	assert.Equal(t, s.GetSchedule(), reloaded.GetSchedule())
}

func TestMutationsPublish(t *testing.T) {
	bus := eventbus.New(nil)
	var events []protocol.ScheduleUpdatedEvent
	bus.Subscribe(protocol.ScheduleUpdated, func(p any) error {
		events = append(events, p.(protocol.ScheduleUpdatedEvent))
		return nil
	})
	s, err := New(filepath.Join(t.TempDir(), "schedule.json"), bus, nil, testingclock.NewFakePassiveClock(monday))
	require.NoError(t, err)

	require.NoError(t, s.SetDay("Tue", []storage.Lesson{
		{Time: "10:00", Subject: "Art"},
		{Time: "08:00", Subject: "English"},
	}))
	require.NoError(t, s.RemoveLesson("Tue", "10:00"))
	assert.ErrorIs(t, s.RemoveLesson("Tue", "10:00"), ErrLessonNotFound)
	require.NoError(t, s.ClearDay("Tue"))

	require.Len(t, events, 3)
	assert.Equal(t, "English", events[1].Schedule["Tue"][0].Subject)
	assert.Empty(t, events[2].Schedule["Tue"])
}

func TestValidation(t *testing.T) {
	s, _ := newStore(t)
	assert.ErrorIs(t, s.AddLesson("Funday", storage.Lesson{Time: "08:00"}), ErrUnknownDay)
	assert.Error(t, s.AddLesson("Mon", storage.Lesson{Time: "8:00"}))
	assert.Error(t, s.SetDay("Mon", []storage.Lesson{{Time: "24:00"}}))
	_, err := s.GetDay("x")
	assert.ErrorIs(t, err, ErrUnknownDay)
}

func TestCurrentAndNextLesson(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.SetDay("Mon", []storage.Lesson{
		{Time: "08:00", Subject: "German"},
		{Time: "08:50", Subject: "Math"},
	}))

	at := func(h, m int) time.Time { return time.Date(2024, 4, 29, h, m, 0, 0, time.Local) }

	_, ok := s.CurrentLesson(at(7, 59))
	assert.False(t, ok)
	next, ok := s.NextLesson(at(7, 59))
	require.True(t, ok)
	assert.Equal(t, "German", next.Subject)

	cur, ok := s.CurrentLesson(at(8, 44))
	require.True(t, ok)
	assert.Equal(t, "German", cur.Subject)
	next, _ = s.NextLesson(at(8, 44))
	assert.Equal(t, "Math", next.Subject)

	_, ok = s.CurrentLesson(at(8, 45))
	assert.False(t, ok, "lesson is over after 45 minutes")

	_, ok = s.NextLesson(at(9, 0))
	assert.False(t, ok)

	// tuesday has nothing
	_, ok = s.CurrentLesson(at(8, 10).AddDate(0, 0, 1))
	assert.False(t, ok)
}

func TestLoadNormalizesDays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	raw := `{"schedule": {"monday": [{"time": "09:00", "subject": "B"}, {"time": "08:00", "subject": "A"}, {"time": "nope", "subject": "X"}], "Holiday": []}, "last_updated": "2024-04-28T18:00:00"}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := New(path, nil, nil, testingclock.NewFakePassiveClock(monday))
	require.NoError(t, err)

	lessons, err := s.GetDay("Mon")
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "A", lessons[0].Subject)
	assert.Equal(t, 18, s.LastUpdated().Hour())
}
