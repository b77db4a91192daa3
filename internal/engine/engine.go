// Package engine builds the clock's services, wires them to each other and
// to the UI, and runs them until shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/alarm"
	"github.com/homeclock/clockd/internal/appstate"
	"github.com/homeclock/clockd/internal/audio"
	"github.com/homeclock/clockd/internal/autotheme"
	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/hw"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/petcare"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/schedule"
	"github.com/homeclock/clockd/internal/sensor"
	"github.com/homeclock/clockd/internal/settings"
	"github.com/homeclock/clockd/internal/shell"
	"github.com/homeclock/clockd/internal/storage"
	"github.com/homeclock/clockd/internal/ui"
	"github.com/homeclock/clockd/internal/volume"
	"github.com/homeclock/clockd/internal/weather"
)

// Config holds engine configuration
type Config struct {
	ConfigDir string // user_config.json, alarm.json, schedule.json, pigs.json
	CacheDir  string // weather.json
	SoundsDir string

	SettingsMinInterval time.Duration
	StartupSound        string // relative to SoundsDir, empty disables
	PopupTimeout        time.Duration
	AudioDevices        []string // preferred output names, matched against aplay -l
	DetectAudio         bool
	VolumeCard          string // amixer -c argument, empty for the default card

	WeatherBaseURL       string
	WeatherInterval      time.Duration // snapshot freshness
	WeatherCheckInterval time.Duration // how often the refresh loop looks

	Sensor    sensor.Config
	AutoTheme autotheme.Config
	Audio     audio.Config
	Volume    volume.Config
	Alarm     alarm.Config
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		ConfigDir:            "config",
		CacheDir:             "cache",
		SoundsDir:            "sounds",
		SettingsMinInterval:  500 * time.Millisecond,
		StartupSound:         "startup.wav",
		PopupTimeout:         10 * time.Minute,
		AudioDevices:         audio.PreferredDevices,
		DetectAudio:          true,
		WeatherBaseURL:       weather.DefaultConfig().BaseURL,
		WeatherInterval:      6 * time.Hour,
		WeatherCheckInterval: 15 * time.Minute,
		Sensor:               sensor.DefaultConfig(),
		AutoTheme:            autotheme.DefaultConfig(),
		Audio:                audio.DefaultConfig(),
		Volume:               volume.DefaultConfig(),
		Alarm:                alarm.DefaultConfig(),
	}
}

// Options are the engine's outside collaborators. Nil fields get headless or
// real-hardware defaults.
type Options struct {
	Post    ui.PostFunc
	Theme   ui.ThemeApplier
	Popups  ui.PopupOpener
	Runner  shell.Runner
	Drivers []hw.Driver
	Mixer   audio.Mixer
	Clock   clock.WithDelayedExecution
	Logger  *zap.Logger
}

// Services is the typed registry of everything the engine built
type Services struct {
	Bus       *eventbus.Bus
	Settings  *settings.Store
	State     *appstate.State
	Sensor    *sensor.Reader
	AutoTheme *autotheme.Controller
	Player    *audio.Player
	Volume    *volume.Controller
	Alarm     *alarm.Store
	Clock     *alarm.Scheduler
	PetCare   *petcare.Timer
	Schedule  *schedule.Store
	Weather   *weather.Client
}

// Status aggregates the status of every service
type Status struct {
	State          appstate.Snapshot        `json:"state"`
	Sensor         sensor.Readings          `json:"sensor"`
	AutoTheme      autotheme.Status         `json:"auto_theme"`
	Audio          audio.State              `json:"audio"`
	Volume         volume.Status            `json:"volume"`
	Alarm          alarm.Status             `json:"alarm"`
	Weather        weather.Status           `json:"weather"`
	PetCare        map[string]petcare.Value `json:"pet_care"`
	NeedsAttention bool                     `json:"needs_attention"`
	Schedule       storage.Schedule         `json:"schedule"`
}

// Engine owns the services and their background loops
type Engine struct {
	config   Config
	opts     Options
	logger   *zap.Logger
	services Services
	subs     []eventbus.Subscription

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates every service in dependency order. Hardware that is missing
// degrades the affected service instead of failing.
func New(ctx context.Context, config Config, opts Options) (*Engine, error) {
	logger := logging.OrNop(opts.Logger)
	if opts.Post == nil {
		opts.Post = ui.Inline
	}
	if opts.Theme == nil {
		opts.Theme = ui.LogThemeApplier{Logger: logger}
	}
	if opts.Popups == nil {
		opts.Popups = ui.HeadlessPopups{Logger: logger, Timeout: config.PopupTimeout, Post: opts.Post}
	}
	if opts.Runner == nil {
		opts.Runner = shell.ExecRunner{Timeout: config.Volume.CommandTimeout}
	}
	if opts.Drivers == nil {
		opts.Drivers = hw.Drivers(config.Sensor.Drivers...)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	e := &Engine{
		config:   config,
		opts:     opts,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	s := &e.services
	built := false
	defer func() {
		if !built {
			e.release()
		}
	}()

	s.Bus = eventbus.New(logger)

	var err error
	s.Settings, err = settings.New(settings.Config{
		Path:        filepath.Join(config.ConfigDir, "user_config.json"),
		MinInterval: config.SettingsMinInterval,
	}, logger, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s.State = appstate.New(s.Settings, s.Bus, logger, opts.Clock)
	snap := s.State.Snapshot()

	s.Sensor, err = sensor.New(config.Sensor, logger, opts.Clock, opts.Drivers...)
	if err != nil {
		logger.Warn("Light sensor disabled", zap.Error(err))
	}

	mixer := opts.Mixer
	if mixer == nil {
		var params audio.Params
		if config.DetectAudio {
			params, _ = audio.DetectParams(ctx, opts.Runner, config.AudioDevices, logger)
		}
		mixer = audio.NewExecMixer(params, nil, logger)
	}
	s.Player = audio.NewPlayer(mixer, config.Audio, logger, opts.Clock)

	s.Volume = volume.New(ctx, config.Volume, logger,
		&volume.Amixer{Runner: opts.Runner, Card: config.VolumeCard},
		&volume.Pactl{Runner: opts.Runner})

	s.Alarm, err = alarm.NewStore(filepath.Join(config.ConfigDir, "alarm.json"), s.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load alarm: %w", err)
	}
	s.Clock = alarm.NewScheduler(config.Alarm, alarm.Options{
		Store:  s.Alarm,
		Ringer: s.Player,
		Volume: s.Volume,
		Post:   opts.Post,
		Popups: opts.Popups,
		Bus:    s.Bus,
		Logger: logger,
		Clock:  opts.Clock,
	})

	themeConfig := config.AutoTheme
	themeConfig.ThresholdSeconds = snap.LightSensorThreshold
	s.AutoTheme = autotheme.New(themeConfig, autotheme.Options{
		Source:  s.Sensor,
		Bus:     s.Bus,
		Post:    opts.Post,
		Apply:   opts.Theme,
		Current: s.State.Theme,
		Logger:  logger,
		Clock:   opts.Clock,
	})

	s.PetCare, err = petcare.New(filepath.Join(config.ConfigDir, "pigs.json"), s.Bus, logger, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to load pet care: %w", err)
	}
	s.Schedule, err = schedule.New(filepath.Join(config.ConfigDir, "schedule.json"), s.Bus, logger, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}

	s.Weather = weather.New(weather.Config{
		Lat:            snap.Location.Lat,
		Lon:            snap.Location.Lon,
		CachePath:      filepath.Join(config.CacheDir, "weather.json"),
		UpdateInterval: config.WeatherInterval,
		BaseURL:        config.WeatherBaseURL,
	}, s.Bus, logger, opts.Clock)

	built = true
	return e, nil
}

// release frees what a failed New already acquired
func (e *Engine) release() {
	s := &e.services
	if s.Sensor != nil {
		s.Sensor.Stop()
	}
	if s.Settings != nil {
		_ = s.Settings.Close()
	}
}

// Services returns the service registry
func (e *Engine) Services() *Services {
	return &e.services
}

// Start wires the services together and launches their workers
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	s := &e.services
	snap := s.State.Snapshot()

	s.Sensor.OnSample(func(r sensor.Readings) {
		s.State.SetSensorData(map[string]any{
			"light":      r.Light,
			"confidence": r.Confidence,
			"backend":    r.Backend,
			"simulated":  r.Simulated,
		})
	})

	if _, err := s.Volume.Set(snap.Volume); err != nil {
		e.logger.Warn("Failed to restore volume", zap.Int("volume", snap.Volume), zap.Error(err))
	}
	s.Volume.OnChange(e.opts.Post, func(percent int, _ volume.Direction) {
		if err := s.State.SetVolume(percent); err != nil {
			e.logger.Debug("Failed to record volume", zap.Error(err))
		}
	})

	e.subs = append(e.subs,
		s.Bus.Subscribe(protocol.ThemeChanged, s.State.ObserveThemeChanged),
		s.Bus.Subscribe(protocol.AutoThemeChanged, e.handleAutoThemeChanged),
	)

	if err := s.Sensor.Start(); err != nil {
		e.logger.Info("Light sensor not started", zap.Error(err))
	}
	s.AutoTheme.Start()
	if snap.AutoThemeEnabled {
		s.AutoTheme.Calibrate(snap.LightSensorThreshold)
		if err := s.AutoTheme.SetEnabled(true); err != nil {
			e.logger.Warn("Auto theme not enabled", zap.Error(err))
		}
	}

	s.Clock.Start()

	if err := s.Volume.StartButtons(e.opts.Drivers...); err != nil && !errors.Is(err, volume.ErrNoButtons) {
		e.logger.Warn("Volume buttons unavailable", zap.Error(err))
	}

	e.playStartupSound()

	e.wg.Add(1)
	go e.weatherLoop(ctx)

	e.logger.Info("Engine started")
	return nil
}

// Stop shuts the services down in reverse start order and flushes settings
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopChan)
	e.wg.Wait()

	s := &e.services
	s.Volume.StopButtons()
	s.Clock.Stop()
	s.AutoTheme.Stop()
	s.Sensor.Stop()
	s.Player.Stop()

	for _, sub := range e.subs {
		s.Bus.Unsubscribe(sub)
	}

	err := s.Settings.Close()
	if err != nil {
		e.logger.Error("Failed to flush settings", zap.Error(err))
	}

	e.logger.Info("Engine stopped")
	return err
}

// handleAutoThemeChanged applies a changed auto-theme setting to the
// controller
func (e *Engine) handleAutoThemeChanged(payload any) error {
	ev, ok := payload.(protocol.AutoThemeChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", protocol.AutoThemeChanged, payload)
	}
	e.services.AutoTheme.Calibrate(ev.ThresholdSeconds)
	return e.services.AutoTheme.SetEnabled(ev.Enabled)
}

func (e *Engine) playStartupSound() {
	if e.config.StartupSound == "" {
		return
	}
	path := filepath.Join(e.config.SoundsDir, e.config.StartupSound)
	if _, err := os.Stat(path); err != nil {
		e.logger.Debug("No startup sound", zap.String("file", path))
		return
	}
	if _, err := e.services.Player.Play(path); err != nil {
		e.logger.Warn("Failed to play startup sound", zap.Error(err))
	}
}

// weatherLoop keeps the weather cache warm
func (e *Engine) weatherLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.config.WeatherCheckInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if e.services.Weather.Stale() {
			if err := e.services.Weather.Refresh(ctx); err != nil {
				e.logger.Debug("Background weather refresh failed", zap.Error(err))
			}
		}

		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SetLocation moves the clock and refreshes the weather for the new place
func (e *Engine) SetLocation(ctx context.Context, loc storage.Location) error {
	if err := e.services.State.SetLocation(loc); err != nil {
		return err
	}
	e.services.Weather.SetLocation(loc.Lat, loc.Lon)
	if e.services.Weather.Stale() {
		return e.services.Weather.Refresh(ctx)
	}
	return nil
}

// Status collects every service's status
func (e *Engine) Status() Status {
	s := &e.services
	return Status{
		State:          s.State.Snapshot(),
		Sensor:         s.Sensor.Readings(),
		AutoTheme:      s.AutoTheme.Status(),
		Audio:          s.Player.State(),
		Volume:         s.Volume.Status(),
		Alarm:          s.Clock.Status(),
		Weather:        s.Weather.Status(),
		PetCare:        s.PetCare.GetAllValues(),
		NeedsAttention: s.PetCare.NeedsAttention(),
		Schedule:       s.Schedule.GetSchedule(),
	}
}
