package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/homeclock/clockd/internal/hw"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
)

// MockMixer records what the player asked it to play
type MockMixer struct {
	mu     sync.Mutex
	played []string
	busy   bool
}

func (m *MockMixer) Play(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, path)
	m.busy = true
	return nil
}

func (m *MockMixer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
}

func (m *MockMixer) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

func (m *MockMixer) Played() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.played...)
}

// offlineRunner fails every command, as on a machine without ALSA tools
type offlineRunner struct{}

func (offlineRunner) Run(_ context.Context, name string, _ ...string) ([]byte, error) {
	return nil, errors.New(name + ": not found")
}

// setupTestEngine creates a started engine over temp directories and fakes
func setupTestEngine(t *testing.T) (*Engine, *MockMixer, *observer.ObservedLogs) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ConfigDir = filepath.Join(dir, "config")
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.SoundsDir = filepath.Join(dir, "sounds")
	cfg.WeatherBaseURL = upstream.URL
	cfg.SettingsMinInterval = 0

	require.NoError(t, os.MkdirAll(cfg.SoundsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SoundsDir, "startup.wav"), []byte("RIFF"), 0o644))

	core, logs := observer.New(zap.DebugLevel)
	mixer := &MockMixer{}
	e, err := New(context.Background(), cfg, Options{
		Runner:  offlineRunner{},
		Drivers: []hw.Driver{hw.NewFake()},
		Mixer:   mixer,
		Logger:  zap.New(core),
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e, mixer, logs
}

func TestEngineStartCreatesDocuments(t *testing.T) {
	e, mixer, logs := setupTestEngine(t)

	for _, name := range []string{"user_config.json", "alarm.json", "pigs.json", "schedule.json"} {
		assert.FileExists(t, filepath.Join(e.config.ConfigDir, name))
	}
	assert.Equal(t, 1, logs.FilterMessage("Engine started").Len())

	played := mixer.Played()
	require.Len(t, played, 1)
	assert.True(t, strings.HasSuffix(played[0], "startup.wav"))

	st := e.Status()
	assert.Equal(t, "light", st.State.Variant)
	assert.True(t, st.Volume.Mock)
	assert.Equal(t, 50, st.Volume.Volume)
	assert.True(t, st.Sensor.Available)
	assert.Equal(t, "fake", st.Sensor.Backend)
	assert.Len(t, st.PetCare, 3)
	assert.False(t, st.NeedsAttention)
	assert.False(t, st.Alarm.Enabled)
	assert.True(t, st.Alarm.Running)

	assert.Eventually(t, func() bool { return e.Status().Weather.LastError != "" },
		5*time.Second, 20*time.Millisecond, "background refresh runs at start")
	assert.False(t, e.Status().Weather.HasData)
}

func TestVolumeChangesReachAppState(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	s := e.Services()

	v, err := s.Volume.Up(0)
	require.NoError(t, err)
	assert.Equal(t, 55, v)
	assert.Equal(t, 55, s.State.Snapshot().Volume)
	assert.Equal(t, 55, s.Settings.GetInt("volume", 0))
}

func TestAutoThemeSettingReachesController(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	s := e.Services()

	require.NoError(t, s.State.SetAutoTheme(true, 5))
	st := s.AutoTheme.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, 5, st.ThresholdSeconds)

	require.NoError(t, s.State.SetAutoTheme(false, 5))
	assert.False(t, s.AutoTheme.Status().Enabled)
}

func TestThemeChangedIsPersisted(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	s := e.Services()

	s.Bus.Publish(protocol.ThemeChanged, protocol.ThemeChangedEvent{Theme: "default", Variant: "dark"})
	assert.Equal(t, "dark", s.State.Snapshot().Variant)
	assert.Equal(t, "dark", s.Settings.GetString("variant", ""))
}

func TestStopFlushesSettingsAndIsIdempotent(t *testing.T) {
	e, _, logs := setupTestEngine(t)
	s := e.Services()

	require.NoError(t, s.State.SetLanguage("de"))
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.Equal(t, 1, logs.FilterMessage("Engine stopped").Len())

	var doc map[string]any
	require.NoError(t, storage.ReadJSON(filepath.Join(e.config.ConfigDir, "user_config.json"), &doc))
	assert.Equal(t, "de", doc["language"])
	assert.False(t, s.Clock.Status().Running)
}

func TestStartTwiceFails(t *testing.T) {
	e, _, _ := setupTestEngine(t)
	assert.Error(t, e.Start(context.Background()))
}

func TestFailedNewReleasesSensorPin(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ConfigDir = filepath.Join(dir, "config")
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.SoundsDir = filepath.Join(dir, "sounds")
	// a directory where alarm.json should be cannot be read
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ConfigDir, "alarm.json"), 0o755))

	fake := hw.NewFake()
	_, err := New(context.Background(), cfg, Options{
		Runner:  offlineRunner{},
		Drivers: []hw.Driver{fake},
		Mixer:   &MockMixer{},
	})
	require.Error(t, err)
	assert.Zero(t, fake.Opened(cfg.Sensor.Pin))
}
