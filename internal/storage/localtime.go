package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LocalTimeLayout is the on-disk timestamp format: local wall time, no zone
const LocalTimeLayout = "2006-01-02T15:04:05"

// LocalTime is a timestamp persisted as local wall time without offset
type LocalTime struct {
	time.Time
}

// NewLocalTime wraps t, dropping sub-second precision
func NewLocalTime(t time.Time) LocalTime {
	return LocalTime{Time: t.Truncate(time.Second)}
}

// String formats the timestamp in LocalTimeLayout
func (t LocalTime) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(LocalTimeLayout)
}

// MarshalJSON implements json.Marshaler
func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseLocalTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseLocalTime parses an ISO-8601 timestamp as local wall time.
//
// Fractional seconds and any trailing zone designator ("Z", "+02:00",
// "-0500") are discarded; the remaining wall clock reading is interpreted in
// time.Local. A space is accepted in place of the "T" separator.
func ParseLocalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	if len(s) > 10 {
		if i := strings.IndexAny(s[10:], "Z+-"); i >= 0 {
			s = s[:10+i]
		}
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}

	for _, layout := range []string{LocalTimeLayout, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
