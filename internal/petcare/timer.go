// Package petcare tracks the guinea pigs' recurring care tasks as bars that
// deplete from 100% at the last reset to 0% after the item's maximum age.
package petcare

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
)

// ErrUnknownItem is returned for a care item that is not configured
var ErrUnknownItem = errors.New("unknown care item")

// Care items present in every document
const (
	ItemWater = "water"
	ItemFood  = "food"
	ItemClean = "clean"
)

// Status buckets
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusWarning   = "warning"
	StatusCritical  = "critical"
)

// DefaultDocument returns the document written on first start, with every
// bar full at now
func DefaultDocument(now time.Time) storage.PetCareDocument {
	reset := storage.NewLocalTime(now)
	return storage.PetCareDocument{
		Pigs: []storage.Pig{},
		CareItems: map[string]storage.CareItem{
			ItemWater: {Label: "Water", MaxHours: 24, LastReset: reset, Description: "Refill the water bottle"},
			ItemFood:  {Label: "Food", MaxHours: 12, LastReset: reset, Description: "Fresh vegetables and pellets"},
			ItemClean: {Label: "Clean", MaxHours: 168, LastReset: reset, Description: "Clean the cage"},
		},
		Settings: storage.CareSettings{ReminderThreshold: 25, CriticalThreshold: 10},
	}
}

// Value is the derived state of one care item
type Value struct {
	Item        string    `json:"item"`
	Label       string    `json:"label"`
	Percentage  float64   `json:"percentage"`
	Status      string    `json:"status"`
	MaxHours    float64   `json:"max_hours"`
	LastReset   time.Time `json:"last_reset"`
	Description string    `json:"description,omitempty"`
}

// Timer owns pigs.json
type Timer struct {
	path   string
	bus    *eventbus.Bus
	logger *zap.Logger
	clock  clock.PassiveClock

	mu   sync.RWMutex
	doc  storage.PetCareDocument
	file os.FileInfo // pigs.json as of the last load or write
}

// New loads the document. A missing file is created with defaults; a corrupt
// one yields defaults in memory only.
func New(path string, bus *eventbus.Bus, logger *zap.Logger, clk clock.PassiveClock) (*Timer, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	t := &Timer{
		path:   path,
		bus:    bus,
		logger: logging.OrNop(logger).Named("petcare"),
		clock:  clk,
	}

	doc, err := t.read()
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		if werr := storage.WriteJSON(path, doc); werr != nil {
			t.logger.Warn("Failed to write default pet care file", zap.Error(werr))
		}
	case errors.Is(err, storage.ErrCorrupt):
		t.logger.Warn("Pet care file corrupt, using defaults", zap.Error(err))
	default:
		return nil, err
	}
	t.file = stat(path)
	t.doc = doc
	return t, nil
}

// read loads the document, filling in defaults. On ErrNotFound and
// ErrCorrupt the returned document holds only defaults.
func (t *Timer) read() (storage.PetCareDocument, error) {
	defaults := DefaultDocument(t.clock.Now())
	doc := DefaultDocument(t.clock.Now())
	err := storage.ReadJSON(t.path, &doc)
	if err != nil {
		return defaults, err
	}

	for name, item := range doc.CareItems {
		if item.MaxHours <= 0 {
			fallback, ok := defaults.CareItems[name]
			if !ok {
				t.logger.Warn("Dropping care item without max hours", zap.String("item", name))
				delete(doc.CareItems, name)
				continue
			}
			item.MaxHours = fallback.MaxHours
			doc.CareItems[name] = item
		}
	}
	if doc.Pigs == nil {
		doc.Pigs = []storage.Pig{}
	}
	return doc, nil
}

func stat(path string) os.FileInfo {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	return fi
}

// fileChanged reports whether cur is a different version of the file than
// prev. Writes replace the file by rename, so a rewrite shows up as a new
// inode.
func fileChanged(prev, cur os.FileInfo) bool {
	if cur == nil {
		return false
	}
	if prev == nil {
		return true
	}
	return !os.SameFile(prev, cur) || !prev.ModTime().Equal(cur.ModTime()) || prev.Size() != cur.Size()
}

// syncLocked reloads the document when another process rewrote pigs.json
// and returns the items whose reset time changed. t.mu must be held for
// writing.
func (t *Timer) syncLocked() []string {
	cur := stat(t.path)
	if !fileChanged(t.file, cur) {
		return nil
	}
	t.file = cur

	doc, err := t.read()
	if err != nil {
		t.logger.Warn("Pet care file changed but cannot be read, keeping state", zap.Error(err))
		return nil
	}

	var changed []string
	for name, ci := range doc.CareItems {
		if old, ok := t.doc.CareItems[name]; !ok || !old.LastReset.Truncate(time.Second).Equal(ci.LastReset.Time) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	t.doc = doc
	t.logger.Info("Pet care file changed on disk, reloaded", zap.Strings("items", changed))
	return changed
}

// refresh picks up external changes to pigs.json before a read
func (t *Timer) refresh() {
	t.mu.RLock()
	changed := fileChanged(t.file, stat(t.path))
	t.mu.RUnlock()
	if !changed {
		return
	}

	t.mu.Lock()
	items := t.syncLocked()
	t.mu.Unlock()
	t.publish(items)
}

func (t *Timer) publish(items []string) {
	for _, item := range items {
		t.bus.Publish(protocol.CareUpdated, protocol.CareUpdatedEvent{Item: item})
	}
}

// Percentage returns how full the bar of item is, in [0,100]
func (t *Timer) Percentage(item string) (float64, error) {
	t.refresh()
	t.mu.RLock()
	ci, ok := t.doc.CareItems[item]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownItem, item)
	}
	return percentage(ci, t.clock.Now()), nil
}

func percentage(ci storage.CareItem, now time.Time) float64 {
	if ci.LastReset.IsZero() || ci.MaxHours <= 0 {
		return 0
	}
	elapsed := now.Sub(ci.LastReset.Time).Hours()
	return min(max(100*(1-elapsed/ci.MaxHours), 0), 100)
}

// StatusOf maps a percentage to its status bucket
func StatusOf(pct float64) string {
	switch {
	case pct >= 75:
		return StatusExcellent
	case pct >= 50:
		return StatusGood
	case pct >= 25:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// GetAllValues returns the derived state of every item
func (t *Timer) GetAllValues() map[string]Value {
	t.refresh()
	now := t.clock.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Value, len(t.doc.CareItems))
	for name, ci := range t.doc.CareItems {
		pct := percentage(ci, now)
		out[name] = Value{
			Item:        name,
			Label:       ci.Label,
			Percentage:  pct,
			Status:      StatusOf(pct),
			MaxHours:    ci.MaxHours,
			LastReset:   ci.LastReset.Time,
			Description: ci.Description,
		}
	}
	return out
}

// Overall returns the mean bar level in [0,1]
func (t *Timer) Overall() float64 {
	values := t.GetAllValues()
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v.Percentage
	}
	return sum / float64(len(values)) / 100
}

// ResetBar refills item to 100% and persists the reset time. The reset is
// kept in memory at full precision, and even when the write fails.
func (t *Timer) ResetBar(item string) error {
	now := storage.LocalTime{Time: t.clock.Now()}

	t.mu.Lock()
	external := t.syncLocked()
	ci, ok := t.doc.CareItems[item]
	if !ok {
		t.mu.Unlock()
		t.publish(external)
		return fmt.Errorf("%w: %s", ErrUnknownItem, item)
	}
	ci.LastReset = now
	t.doc.CareItems[item] = ci
	err := storage.WriteJSON(t.path, t.doc)
	if err == nil {
		t.file = stat(t.path)
	}
	t.mu.Unlock()
	t.publish(external)

	if err != nil {
		t.logger.Warn("Failed to persist care reset", zap.String("item", item), zap.Error(err))
	} else {
		t.logger.Info("Care bar reset", zap.String("item", item))
	}
	t.bus.Publish(protocol.CareUpdated, protocol.CareUpdatedEvent{Item: item})
	return err
}

// NeedsAttention reports whether any bar is at or below the reminder
// threshold
func (t *Timer) NeedsAttention() bool {
	threshold := t.Settings().ReminderThreshold
	for _, v := range t.GetAllValues() {
		if v.Percentage <= threshold {
			return true
		}
	}
	return false
}

// CriticalItems returns the sorted names of bars at or below the critical
// threshold
func (t *Timer) CriticalItems() []string {
	threshold := t.Settings().CriticalThreshold
	var out []string
	for name, v := range t.GetAllValues() {
		if v.Percentage <= threshold {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Pigs returns the roster
func (t *Timer) Pigs() []storage.Pig {
	t.refresh()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]storage.Pig(nil), t.doc.Pigs...)
}

// Settings returns the thresholds
func (t *Timer) Settings() storage.CareSettings {
	t.refresh()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.doc.Settings
}
