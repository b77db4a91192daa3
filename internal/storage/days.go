package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayNames lists the persisted weekday keys, Monday first
var DayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

var weekOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// DayName returns the three-letter key for a weekday
func DayName(d time.Weekday) string {
	return d.String()[:3]
}

// ParseDay accepts "Mon", "monday", "MON" and similar spellings
func ParseDay(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for _, d := range weekOrder {
			name := strings.ToLower(d.String())
			if s == name || s == name[:3] {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown day %q", s)
}

// Weekdays is a set of days encoded as a bitmask (bit n = time.Weekday n)
type Weekdays uint8

// WorkWeek is Monday through Friday
const WorkWeek Weekdays = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday

// NewWeekdays builds a set from individual days
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << d
	}
	return w
}

// Has reports whether d is in the set
func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<d) != 0
}

// Empty reports whether no day is set
func (w Weekdays) Empty() bool {
	return w&0x7f == 0
}

// Days returns the members Monday first
func (w Weekdays) Days() []time.Weekday {
	var out []time.Weekday
	for _, d := range weekOrder {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (w Weekdays) String() string {
	names := make([]string, 0, 7)
	for _, d := range w.Days() {
		names = append(names, DayName(d))
	}
	return strings.Join(names, ",")
}

// MarshalJSON writes the set as ["Mon","Tue",...]
func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, d := range w.Days() {
		names = append(names, DayName(d))
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts a list of day names
func (w *Weekdays) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out Weekdays
	for _, name := range names {
		d, err := ParseDay(name)
		if err != nil {
			return err
		}
		out |= 1 << d
	}
	*w = out
	return nil
}

// ParseClock parses "HH:MM" into hour and minute
func ParseClock(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
		}
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	minute := int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return hour, minute, nil
}
