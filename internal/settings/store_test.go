package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
)

func newTestStore(t *testing.T, path string, interval time.Duration) *Store {
	t.Helper()
	s, err := New(Config{Path: path, MinInterval: interval}, nil, clock.RealClock{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func (s *Store) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func TestMissingFileIsCreatedWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	s := newTestStore(t, path, 500*time.Millisecond)

	assert.Equal(t, 1, s.writeCount())
	doc := readDoc(t, path)
	assert.Equal(t, "light", doc["variant"])
	assert.EqualValues(t, 50, doc["volume"])
	assert.Equal(t, Defaults(), s.Settings())
}

func TestLoadFillsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"Mia","extra":true}`), 0644))

	s := newTestStore(t, path, 500*time.Millisecond)
	assert.Equal(t, "Mia", s.GetString(KeyUsername, ""))
	assert.Equal(t, "en", s.GetString(KeyLanguage, ""))
	assert.True(t, s.GetBool("extra", false))
	assert.Equal(t, 0, s.writeCount())
}

func TestMistypedKeyFallsBackAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"username":"Mia","theme":"space","variant":"dark","volume":80,"light_sensor_threshold":"5"}`), 0644))

	s := newTestStore(t, path, 0)
	got := s.Settings()
	assert.Equal(t, "Mia", got.Username)
	assert.Equal(t, "space", got.Theme)
	assert.Equal(t, "dark", got.Variant)
	assert.Equal(t, 80, got.Volume)
	assert.Equal(t, Defaults().LightSensorThreshold, got.LightSensorThreshold)
	assert.Equal(t, Defaults().Location, got.Location)
}

func TestCorruptFileUsesDefaultsWithoutOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"theme": `), 0644))

	s := newTestStore(t, path, 0)
	assert.Equal(t, "default", s.GetString(KeyTheme, ""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"theme": `, string(data))

	require.NoError(t, s.Set(KeyTheme, "space"))
	assert.Equal(t, "space", readDoc(t, path)["theme"])
}

func TestSetEqualValueIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	s := newTestStore(t, path, 0)
	before := s.writeCount()

	require.NoError(t, s.Set(KeyVolume, 50))
	require.NoError(t, s.Set(KeyVolume, 50.0))
	require.NoError(t, s.Set(KeyLocation, map[string]float64{"lat": 52.52, "lon": 13.405}))
	assert.Equal(t, before, s.writeCount())

	require.NoError(t, s.Set(KeyVolume, 60))
	assert.Equal(t, before+1, s.writeCount())
	assert.Equal(t, 60, s.GetInt(KeyVolume, 0))
}

func TestWritesAreCoalesced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	s := newTestStore(t, path, 300*time.Millisecond)
	require.Equal(t, 1, s.writeCount())

	require.NoError(t, s.Set(KeyTheme, "dark"))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Set(KeyVolume, 60))

	assert.Equal(t, 1, s.writeCount(), "mutations inside the interval must be deferred")
	assert.Equal(t, "default", readDoc(t, path)["theme"])

	require.Eventually(t, func() bool { return s.writeCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	doc := readDoc(t, path)
	assert.Equal(t, "dark", doc["theme"])
	assert.EqualValues(t, 60, doc["volume"])

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 2, s.writeCount(), "exactly one deferred write")
}

func TestVolumeBurstFlushesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	s := newTestStore(t, path, 500*time.Millisecond)

	require.NoError(t, s.Set(KeyVolume, 60))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Set(KeyVolume, 65))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Set(KeyVolume, 70))

	require.Eventually(t, func() bool { return s.writeCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 70, readDoc(t, path)["volume"])
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 2, s.writeCount())
}

func TestCloseFlushesPendingChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_config.json")
	s, err := New(Config{Path: path, MinInterval: time.Hour}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyLanguage, "de"))
	assert.Equal(t, "en", readDoc(t, path)["language"])

	require.NoError(t, s.Close())
	assert.Equal(t, "de", readDoc(t, path)["language"])
}

func TestWriteFailureKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user_config.json")
	s := newTestStore(t, path, 0)

	// a directory in place of the file makes the rename fail
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0644))

	err := s.Set(KeyUsername, "Leo")
	assert.Error(t, err)
	assert.Equal(t, "Leo", s.GetString(KeyUsername, ""))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed after a failed write")
}

func TestGetReturnsCopies(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "s.json"), 0)
	v, ok := s.Get(KeyLocation)
	require.True(t, ok)
	v.(map[string]any)["lat"] = 0.0

	assert.Equal(t, 52.52, s.Settings().Location.Lat)
}
