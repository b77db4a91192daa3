package petcare

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

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

func writeDoc(t *testing.T, path string, doc storage.PetCareDocument) {
	t.Helper()
	require.NoError(t, storage.WriteJSON(path, doc))
}

func TestMissingFileCreatesFullBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pigs.json")
	clk := testingclock.NewFakePassiveClock(start)

	timer, err := New(path, nil, nil, clk)
	require.NoError(t, err)
	assert.FileExists(t, path)

	values := timer.GetAllValues()
	require.Len(t, values, 3)
	for name, v := range values {
		assert.InDelta(t, 100, v.Percentage, 0.001, name)
		assert.Equal(t, StatusExcellent, v.Status, name)
	}
	assert.InDelta(t, 1.0, timer.Overall(), 0.001)
	assert.False(t, timer.NeedsAttention())
}

func TestDecayAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pigs.json")
	now := start.Add(900 * time.Millisecond)
	clk := testingclock.NewFakePassiveClock(now)

	doc := DefaultDocument(start)
	doc.CareItems[ItemWater] = storage.CareItem{
		Label:     "Water",
		MaxHours:  8,
		LastReset: storage.NewLocalTime(start.Add(-4 * time.Hour)),
	}
	writeDoc(t, path, doc)

	bus := eventbus.New(nil)
	var updated []string
	bus.Subscribe(protocol.CareUpdated, func(p any) error {
		updated = append(updated, p.(protocol.CareUpdatedEvent).Item)
		return nil
	})

	timer, err := New(path, bus, nil, clk)
	require.NoError(t, err)

	pct, err := timer.Percentage(ItemWater)
	require.NoError(t, err)
	assert.InDelta(t, 50, pct, 0.01)

	require.NoError(t, timer.ResetBar(ItemWater))
	pct, _ = timer.Percentage(ItemWater)
	assert.Equal(t, 100.0, pct, "a reset fills the bar exactly")
	assert.Equal(t, []string{ItemWater}, updated)

	var onDisk storage.PetCareDocument
	require.NoError(t, storage.ReadJSON(path, &onDisk))
	assert.True(t, onDisk.CareItems[ItemWater].LastReset.Equal(start), "stored to the second")

	clk.SetTime(now.Add(8 * time.Hour))
	pct, _ = timer.Percentage(ItemWater)
	assert.Zero(t, pct)
	assert.Equal(t, StatusCritical, timer.GetAllValues()[ItemWater].Status)

	clk.SetTime(now.Add(30 * time.Hour))
	pct, _ = timer.Percentage(ItemWater)
	assert.Zero(t, pct, "bars never go negative")
}

func TestPercentageIsMonotonic(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(start)
	timer, err := New(filepath.Join(t.TempDir(), "pigs.json"), nil, nil, clk)
	require.NoError(t, err)

	prev := 101.0
	for h := 0; h <= 14; h++ {
		clk.SetTime(start.Add(time.Duration(h) * time.Hour))
		pct, err := timer.Percentage(ItemFood)
		require.NoError(t, err)
		assert.LessOrEqual(t, pct, prev)
		prev = pct
	}
}

func TestThresholds(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(start)
	timer, err := New(filepath.Join(t.TempDir(), "pigs.json"), nil, nil, clk)
	require.NoError(t, err)

	// food (12 h) at 20%, water (24 h) at 60%, clean (168 h) high
	clk.SetTime(start.Add(9*time.Hour + 36*time.Minute))
	assert.True(t, timer.NeedsAttention())
	assert.Empty(t, timer.CriticalItems())

	clk.SetTime(start.Add(11 * time.Hour))
	assert.Equal(t, []string{ItemFood}, timer.CriticalItems())

	assert.Equal(t, StatusGood, StatusOf(50))
	assert.Equal(t, StatusWarning, StatusOf(25))
	assert.Equal(t, StatusCritical, StatusOf(24.9))
	assert.Equal(t, StatusExcellent, StatusOf(75))
}

func TestUnknownItem(t *testing.T) {
	timer, err := New(filepath.Join(t.TempDir(), "pigs.json"), nil, nil, testingclock.NewFakePassiveClock(start))
	require.NoError(t, err)

	_, err = timer.Percentage("hay")
	assert.ErrorIs(t, err, ErrUnknownItem)
	assert.ErrorIs(t, timer.ResetBar("hay"), ErrUnknownItem)
}

func TestTimestampsWithOffsetAndFraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pigs.json")
	raw := `{
  "pigs": [{"name": "Krümel", "color": "brown"}],
  "care_items": {
    "water": {"label": "Water", "max_hours": 10, "last_reset": "2024-05-01T07:00:00.123456+02:00"}
  },
  "settings": {"reminder_threshold": 30, "critical_threshold": 5}
}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	timer, err := New(path, nil, nil, testingclock.NewFakePassiveClock(start))
	require.NoError(t, err)

	pct, err := timer.Percentage(ItemWater)
	require.NoError(t, err)
	assert.InDelta(t, 50, pct, 0.01, "offset is discarded, wall time is local")

	_, err = timer.Percentage(ItemFood)
	assert.NoError(t, err, "missing items are filled with defaults")
	assert.Equal(t, []storage.Pig{{Name: "Krümel", Color: "brown"}}, timer.Pigs())
	assert.Equal(t, 30.0, timer.Settings().ReminderThreshold)
}

func TestCorruptFileIsNotOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pigs.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	timer, err := New(path, nil, nil, testingclock.NewFakePassiveClock(start))
	require.NoError(t, err)
	assert.Len(t, timer.GetAllValues(), 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestResetByAnotherWriterIsPickedUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pigs.json")
	clk := testingclock.NewFakePassiveClock(start)

	bus := eventbus.New(nil)
	var updated []string
	bus.Subscribe(protocol.CareUpdated, func(p any) error {
		updated = append(updated, p.(protocol.CareUpdatedEvent).Item)
		return nil
	})
	daemon, err := New(path, bus, nil, clk)
	require.NoError(t, err)

	clk.SetTime(start.Add(6 * time.Hour))
	pct, _ := daemon.Percentage(ItemWater)
	assert.InDelta(t, 75, pct, 0.01)

	other, err := New(path, nil, nil, clk)
	require.NoError(t, err)
	require.NoError(t, other.ResetBar(ItemWater))

	pct, err = daemon.Percentage(ItemWater)
	require.NoError(t, err)
	assert.InDelta(t, 100, pct, 0.001)
	assert.Equal(t, []string{ItemWater}, updated)

	// the daemon's next write keeps the other writer's reset
	clk.SetTime(start.Add(7 * time.Hour))
	require.NoError(t, daemon.ResetBar(ItemFood))

	var onDisk storage.PetCareDocument
	require.NoError(t, storage.ReadJSON(path, &onDisk))
	assert.True(t, onDisk.CareItems[ItemWater].LastReset.Equal(start.Add(6*time.Hour)))
	assert.True(t, onDisk.CareItems[ItemFood].LastReset.Equal(start.Add(7*time.Hour)))
}

func TestUnreadableRewriteKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pigs.json")
	clk := testingclock.NewFakePassiveClock(start)
	timer, err := New(path, nil, nil, clk)
	require.NoError(t, err)

	require.NoError(t, storage.WriteFileAtomic(path, []byte("{broken")))
	clk.SetTime(start.Add(6 * time.Hour))
	pct, err := timer.Percentage(ItemWater)
	require.NoError(t, err)
	assert.InDelta(t, 75, pct, 0.01)
}
