package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/homeclock/clockd/internal/petcare"
	"github.com/homeclock/clockd/internal/storage"
)

// execute runs the CLI against dir and returns its output
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config-dir", dir, "--cache-dir", dir}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestResetPetReachesRunningTimer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pigs.json")

	// the daemon's timer, created half a day ago
	clk := testingclock.NewFakePassiveClock(time.Now().Add(-12 * time.Hour).Truncate(time.Second))
	running, err := petcare.New(path, nil, nil, clk)
	require.NoError(t, err)
	clk.SetTime(time.Now())

	pct, err := running.Percentage(petcare.ItemFood)
	require.NoError(t, err)
	assert.InDelta(t, 0, pct, 0.1)

	out, err := execute(t, dir, "reset-pet", petcare.ItemFood)
	require.NoError(t, err)
	assert.Contains(t, out, "Reset food")

	pct, err = running.Percentage(petcare.ItemFood)
	require.NoError(t, err)
	assert.Greater(t, pct, 99.0)
}

func TestResetPetUnknownItem(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "reset-pet", "hay")
	assert.ErrorIs(t, err, petcare.ErrUnknownItem)
}

func TestScheduleForOneDay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, storage.WriteJSON(filepath.Join(dir, "schedule.json"), storage.ScheduleDocument{
		Schedule: storage.Schedule{
			"monday": {{Time: "09:50", Subject: "Art"}, {Time: "08:00", Subject: "Maths", Room: "12"}},
			"Tue":    {{Time: "08:00", Subject: "Music"}},
		},
	}))

	out, err := execute(t, dir, "schedule", "Mon")
	require.NoError(t, err)
	assert.Contains(t, out, "Maths")
	assert.Contains(t, out, "Art")
	assert.NotContains(t, out, "Music")
	assert.Less(t, bytes.Index([]byte(out), []byte("Maths")), bytes.Index([]byte(out), []byte("Art")))
}

func TestMissingDocumentFails(t *testing.T) {
	_, err := execute(t, t.TempDir(), "alarm")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
