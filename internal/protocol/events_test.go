package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKeys(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"sensor data", SensorDataUpdatedEvent{SensorData: map[string]any{"light": true}}, `{"sensor_data":{"light":true}}`},
		{"media files", MediaFilesUpdatedEvent{MediaFiles: []string{"a.mp3"}}, `{"media_files":["a.mp3"]}`},
		{"alarm stopped", AlarmChangedEvent{State: "stopped"}, `{"state":"stopped"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.payload)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestAlarmSnoozeUntilIsSentWhenSet(t *testing.T) {
	until := time.Date(2024, 5, 1, 7, 35, 0, 0, time.UTC)
	data, err := json.Marshal(AlarmChangedEvent{State: "snoozed", SnoozeUntil: until})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"snooze_until":"2024-05-01T07:35:00Z"`)
}
