// Package autotheme switches the UI between the light and dark variant when
// the ambient light has changed for longer than a threshold.
package autotheme

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/eventbus"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/protocol"
	"github.com/homeclock/clockd/internal/ui"
)

// ErrSensorUnavailable is returned when enabling without a light sensor
var ErrSensorUnavailable = errors.New("light sensor unavailable")

const (
	variantLight = "light"
	variantDark  = "dark"
)

// LightSource is the part of the sensor reader the controller uses
type LightSource interface {
	Available() bool
	IsLight() bool
	ClearWindow()
	SetConfidenceLevel(level float64)
}

// Config holds controller configuration
type Config struct {
	ThresholdSeconds int
	TickInterval     time.Duration
}

// DefaultConfig returns default controller configuration
func DefaultConfig() Config {
	return Config{
		ThresholdSeconds: 3,
		TickInterval:     500 * time.Millisecond,
	}
}

// Options are the controller's collaborators
type Options struct {
	Source LightSource
	Bus    *eventbus.Bus
	Post   ui.PostFunc
	Apply  ui.ThemeApplier
	// Current returns the theme and variant applied right now
	Current func() (theme, variant string)
	Logger  *zap.Logger
	Clock   clock.PassiveClock
}

// Status reports the controller state
type Status struct {
	Enabled          bool      `json:"enabled"`
	Running          bool      `json:"running"`
	SensorAvailable  bool      `json:"sensor_available"`
	CurrentState     string    `json:"current_state"`
	ThresholdSeconds int       `json:"threshold_seconds"`
	Pending          bool      `json:"pending"`
	PendingSince     time.Time `json:"pending_since,omitzero"`
}

// Controller runs the hysteresis state machine
type Controller struct {
	config Config
	opts   Options
	logger *zap.Logger

	mu           sync.Mutex
	enabled      bool
	running      bool
	currentState string // "", light or dark
	pendingSince time.Time
	stable       bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a disabled controller
func New(config Config, opts Options) *Controller {
	if config.TickInterval <= 0 {
		config.TickInterval = 500 * time.Millisecond
	}
	config.ThresholdSeconds = clampThreshold(config.ThresholdSeconds)
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Post == nil {
		opts.Post = ui.Inline
	}
	return &Controller{
		config:   config,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("autotheme"),
		stopChan: make(chan struct{}),
	}
}

func (c *Controller) sensorAvailable() bool {
	return c.opts.Source != nil && c.opts.Source.Available()
}

// Start launches the evaluation loop. It ticks whether or not the controller
// is enabled.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.tickLoop()
}

// Stop ends the loop. It is idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	})
}

func (c *Controller) tickLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.evaluate(c.opts.Clock.Now())
		}
	}
}

// Calibrate sets the threshold, picks the sensor confidence for it, clears
// the sensor window and seeds the state from the applied variant. It never
// switches the theme itself.
func (c *Controller) Calibrate(thresholdSeconds int) {
	thresholdSeconds = clampThreshold(thresholdSeconds)

	if c.sensorAvailable() {
		level := 0.7
		if thresholdSeconds <= 2 {
			level = 0.6
		}
		c.opts.Source.SetConfidenceLevel(level)
		c.opts.Source.ClearWindow()
	}

	seed := ""
	if c.opts.Current != nil {
		if _, variant := c.opts.Current(); variant == variantLight || variant == variantDark {
			seed = variant
		}
	}

	c.mu.Lock()
	c.config.ThresholdSeconds = thresholdSeconds
	c.currentState = seed
	c.pendingSince = time.Time{}
	c.stable = false
	c.mu.Unlock()

	c.logger.Debug("Calibrated", zap.Int("threshold_seconds", thresholdSeconds), zap.String("state", seed))
}

// SetEnabled turns automatic switching on or off. Enabling recalibrates and
// fails when no sensor is available.
func (c *Controller) SetEnabled(enabled bool) error {
	if enabled && !c.sensorAvailable() {
		c.mu.Lock()
		c.enabled = false
		c.mu.Unlock()
		c.logger.Warn("Cannot enable auto theme without a light sensor")
		return ErrSensorUnavailable
	}

	c.mu.Lock()
	if c.enabled == enabled {
		c.mu.Unlock()
		return nil
	}
	threshold := c.config.ThresholdSeconds
	c.mu.Unlock()

	if enabled {
		c.Calibrate(threshold)
	}

	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()

	c.logger.Info("Auto theme toggled", zap.Bool("enabled", enabled))
	return nil
}

// Status returns a snapshot of the controller
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Enabled:          c.enabled,
		Running:          c.running,
		SensorAvailable:  c.sensorAvailable(),
		CurrentState:     c.currentState,
		ThresholdSeconds: c.config.ThresholdSeconds,
		Pending:          !c.pendingSince.IsZero(),
		PendingSince:     c.pendingSince,
	}
}

// evaluate runs one step of the state machine
func (c *Controller) evaluate(now time.Time) {
	if !c.sensorAvailable() {
		return
	}
	reading := variantDark
	if c.opts.Source.IsLight() {
		reading = variantLight
	}

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}

	switch {
	case reading == c.currentState:
		c.pendingSince = time.Time{}
		c.stable = false
		c.mu.Unlock()
		return
	case c.pendingSince.IsZero():
		c.pendingSince = now
		c.mu.Unlock()
		return
	case now.Sub(c.pendingSince) < time.Duration(c.config.ThresholdSeconds)*time.Second || c.stable:
		c.mu.Unlock()
		return
	}

	c.currentState = reading
	c.stable = true
	c.mu.Unlock()

	c.switchTo(reading)
}

func (c *Controller) switchTo(variant string) {
	theme := ""
	if c.opts.Current != nil {
		theme, _ = c.opts.Current()
	}
	c.logger.Info("Switching theme variant", zap.String("variant", variant))

	c.opts.Bus.Publish(protocol.ThemeChanged, protocol.ThemeChangedEvent{Theme: theme, Variant: variant})
	if c.opts.Apply != nil {
		apply := c.opts.Apply
		c.opts.Post(func() { apply.ApplyThemeVariant(variant) })
	}
}

func clampThreshold(v int) int {
	return min(max(v, 1), 10)
}
