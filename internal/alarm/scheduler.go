package alarm

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/storage"
	"github.com/homeclock/clockd/internal/ui"
)

var errNoPopups = errors.New("no popup opener")

// Ringer plays and silences the ringtone
type Ringer interface {
	PlayLong(path string) (bool, error)
	Stop()
}

// Volume is used to fade the ringtone in
type Volume interface {
	Get() int
	Set(percent int) (int, error)
}

// Config holds scheduler configuration
type Config struct {
	CheckInterval time.Duration // worker wake-up period
	SnoozeMinutes int
	RingtoneDir   string
	FadeSteps     int
	FadeDuration  time.Duration
	StopTimeout   time.Duration // bound on joining the worker
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		SnoozeMinutes: 5,
		RingtoneDir:   "sounds/ringtones",
		FadeSteps:     10,
		FadeDuration:  30 * time.Second,
		StopTimeout:   2 * time.Second,
	}
}

// Options are the scheduler's collaborators
type Options struct {
	Store  *Store
	Ringer Ringer
	Volume Volume // optional, enables fade-in
	Post   ui.PostFunc
	Popups ui.PopupOpener
	Bus    *eventbus.Bus
	Logger *zap.Logger
	Clock  clock.PassiveClock
}

// Status reports the runtime alarm state
type Status struct {
	Enabled     bool      `json:"enabled"`
	Time        string    `json:"time"`
	Active      bool      `json:"active"`
	SnoozeUntil time.Time `json:"snooze_until,omitzero"`
	NextTrigger time.Time `json:"next_trigger,omitzero"`
	Running     bool      `json:"running"`
}

// Scheduler watches the clock and rings the alarm.
//
// While active a popup is open or being opened; snoozeUntil is only set
// while not active.
type Scheduler struct {
	config Config
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	active      bool
	ringID      uuid.UUID
	popup       ui.Popup
	snoozeUntil time.Time
	lastFired   string // minute key of the last fire
	running     bool

	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a stopped scheduler
func NewScheduler(config Config, opts Options) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.SnoozeMinutes <= 0 {
		config.SnoozeMinutes = 5
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Post == nil {
		opts.Post = ui.Inline
	}
	return &Scheduler{
		config:   config,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("alarm"),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	s.logger.Info("Alarm scheduler started")
}

// Stop signals the worker and waits for it up to StopTimeout. It is
// idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.config.StopTimeout):
			s.logger.Warn("Alarm worker did not stop in time")
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logger.Info("Alarm scheduler stopped")
	})
}

// Wake makes the worker check immediately
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(s.config.CheckInterval)
	defer timer.Stop()

	for {
		s.check(s.opts.Clock.Now())

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.config.CheckInterval)

		select {
		case <-s.stopChan:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// ShouldTrigger reports whether the stored alarm matches now
func (s *Scheduler) ShouldTrigger(now time.Time) bool {
	return Matches(s.opts.Store.Get(), now)
}

// check fires on snooze expiry or on a schedule match
func (s *Scheduler) check(now time.Time) {
	s.mu.Lock()
	snoozed := !s.snoozeUntil.IsZero() && !now.Before(s.snoozeUntil)
	if snoozed {
		s.snoozeUntil = time.Time{}
	}
	s.mu.Unlock()

	if snoozed {
		s.fire(now, true)
		return
	}
	if s.ShouldTrigger(now) {
		s.fire(now, false)
	}
}

// fire latches the alarm and posts the ringing task to the UI goroutine.
// A schedule match fires at most once per minute.
func (s *Scheduler) fire(now time.Time, snooze bool) bool {
	a := s.opts.Store.Get()
	minute := now.Format("2006-01-02T15:04")

	s.mu.Lock()
	if s.active || (!snooze && s.lastFired == minute) {
		s.mu.Unlock()
		return false
	}
	s.active = true
	s.lastFired = minute
	s.snoozeUntil = time.Time{}
	ringID := uuid.New()
	s.ringID = ringID
	s.mu.Unlock()

	s.logger.Info("Alarm firing", zap.String("time", a.Time), zap.Bool("snooze", snooze))
	s.opts.Bus.Publish(protocol.AlarmChanged, protocol.AlarmChangedEvent{
		State:  protocol.AlarmRinging,
		RingID: ringID.String(),
	})

	if !snooze && a.Repeat.Empty() {
		// one-shot alarms switch themselves off once rung
		if err := s.opts.Store.Enable(false); err != nil {
			s.logger.Warn("Failed to disable one-shot alarm", zap.Error(err))
		}
	}

	s.opts.Post(func() { s.ring(ringID, a) })
	return true
}

// ring runs on the UI goroutine
func (s *Scheduler) ring(ringID uuid.UUID, a storage.Alarm) {
	if !s.isRinging(ringID) {
		return
	}

	var popup ui.Popup
	var err error
	if s.opts.Popups != nil {
		popup, err = s.opts.Popups.OpenAlarmPopup(ui.AlarmPopup{
			Time:      a.Time,
			Ringtone:  a.Ringtone,
			OnSnooze:  func() { s.Snooze(0) },
			OnDismiss: s.StopAlarm,
		})
	} else {
		err = errNoPopups
	}

	if err != nil {
		s.logger.Warn("Failed to open alarm popup", zap.Error(err))
		s.playRingtone(ringID, a)
		s.mu.Lock()
		if s.ringID == ringID {
			s.active = false
			s.ringID = uuid.Nil
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if !s.active || s.ringID != ringID {
		s.mu.Unlock()
		popup.Dismiss()
		return
	}
	s.popup = popup
	s.mu.Unlock()

	s.playRingtone(ringID, a)
}

func (s *Scheduler) isRinging(ringID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.ringID == ringID
}

func (s *Scheduler) ringtonePath(name string) string {
	if name == "" {
		name = storage.DefaultAlarm().Ringtone
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.config.RingtoneDir, name)
}

func (s *Scheduler) playRingtone(ringID uuid.UUID, a storage.Alarm) {
	if s.opts.Ringer == nil {
		return
	}

	fade := a.FadeIn && s.opts.Volume != nil && s.config.FadeSteps > 0
	target := 0
	if fade {
		target = s.opts.Volume.Get()
		if _, err := s.opts.Volume.Set(fadeStart(target)); err != nil {
			fade = false
		}
	}

	path := s.ringtonePath(a.Ringtone)
	if _, err := s.opts.Ringer.PlayLong(path); err != nil {
		s.logger.Warn("Failed to play ringtone", zap.String("file", path), zap.Error(err))
	}

	if fade {
		s.wg.Add(1)
		go s.fadeIn(ringID, target)
	}
}

func fadeStart(target int) int {
	return max(target/5, 1)
}

// fadeIn raises the volume to target in steps, restoring target as soon as
// the ring ends
func (s *Scheduler) fadeIn(ringID uuid.UUID, target int) {
	defer s.wg.Done()
	defer func() {
		if _, err := s.opts.Volume.Set(target); err != nil {
			s.logger.Debug("Failed to restore volume", zap.Error(err))
		}
	}()

	start := fadeStart(target)
	step := s.config.FadeDuration / time.Duration(s.config.FadeSteps)
	ticker := time.NewTicker(max(step, time.Millisecond))
	defer ticker.Stop()

	for i := 1; i < s.config.FadeSteps; i++ {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
		}
		if !s.isRinging(ringID) {
			return
		}
		level := start + (target-start)*i/s.config.FadeSteps
		if _, err := s.opts.Volume.Set(level); err != nil {
			return
		}
	}
}

// Snooze silences the alarm and rings again after minutes (default
// SnoozeMinutes)
func (s *Scheduler) Snooze(minutes int) {
	if minutes <= 0 {
		minutes = s.config.SnoozeMinutes
	}
	until := s.opts.Clock.Now().Add(time.Duration(minutes) * time.Minute)

	if s.opts.Ringer != nil {
		s.opts.Ringer.Stop()
	}

	s.mu.Lock()
	popup := s.popup
	s.popup = nil
	s.active = false
	s.ringID = uuid.Nil
	s.snoozeUntil = until
	s.mu.Unlock()

	if popup != nil {
		popup.Dismiss()
	}

	s.logger.Info("Alarm snoozed", zap.Time("until", until))
	s.opts.Bus.Publish(protocol.AlarmChanged, protocol.AlarmChangedEvent{
		State:       protocol.AlarmSnoozed,
		SnoozeUntil: until,
	})
}

// StopAlarm silences the alarm and cancels any pending snooze
func (s *Scheduler) StopAlarm() {
	if s.opts.Ringer != nil {
		s.opts.Ringer.Stop()
	}

	s.mu.Lock()
	wasActive := s.active || !s.snoozeUntil.IsZero()
	popup := s.popup
	s.popup = nil
	s.active = false
	s.ringID = uuid.Nil
	s.snoozeUntil = time.Time{}
	s.mu.Unlock()

	if popup != nil {
		popup.Dismiss()
	}

	if wasActive {
		s.logger.Info("Alarm stopped")
		s.opts.Bus.Publish(protocol.AlarmChanged, protocol.AlarmChangedEvent{State: protocol.AlarmStopped})
	}
}

// Status returns the runtime state
func (s *Scheduler) Status() Status {
	a := s.opts.Store.Get()
	now := s.opts.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:     a.Enabled,
		Time:        a.Time,
		Active:      s.active,
		SnoozeUntil: s.snoozeUntil,
		NextTrigger: NextTrigger(a, now),
		Running:     s.running,
	}
}
