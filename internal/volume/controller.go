// Package volume controls the system output volume through amixer or pactl
// and watches the optional hardware volume buttons.
package volume

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/shell"
	"github.com/homeclock/clockd/internal/ui"
)

// Direction tells listeners what caused a volume change
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionSet    Direction = "set"
	DirectionMute   Direction = "mute"
	DirectionUnmute Direction = "unmute"
)

// ModeMock is reported when no mixer control works
const ModeMock = "mock"

// Config holds controller configuration
type Config struct {
	Step           int           // percent per Up/Down
	Initial        int           // mock-mode starting volume
	CommandTimeout time.Duration // per mixer command, at most 5 s
	ButtonUpPin    int           // BCM pin, 0 disables
	ButtonDownPin  int           // BCM pin, 0 disables
	Debounce       time.Duration
	PollInterval   time.Duration
}

// DefaultConfig returns default controller configuration
func DefaultConfig() Config {
	return Config{
		Step:           5,
		Initial:        50,
		CommandTimeout: shell.DefaultTimeout,
		Debounce:       300 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
	}
}

// Status reports the selected backend and level
type Status struct {
	Mode    string `json:"mode"`
	Control string `json:"control,omitempty"`
	Volume  int    `json:"volume"`
	Muted   bool   `json:"muted"`
	Mock    bool   `json:"mock"`
	Buttons bool   `json:"buttons"`
}

// ChangeFunc is told about every volume change, on the UI goroutine
type ChangeFunc func(percent int, direction Direction)

// Controller is safe for concurrent use
type Controller struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	backend  Backend
	control  string
	volume   int
	muted    bool
	post     ui.PostFunc
	onChange ChangeFunc
	buttons  *buttonWatcher
}

// New probes backends in order and selects the first working control. With
// none the controller runs in mock mode.
func New(ctx context.Context, config Config, logger *zap.Logger, backends ...Backend) *Controller {
	if config.Step <= 0 {
		config.Step = 5
	}
	if config.CommandTimeout <= 0 || config.CommandTimeout > shell.DefaultTimeout {
		config.CommandTimeout = shell.DefaultTimeout
	}
	c := &Controller{
		config: config,
		logger: logging.OrNop(logger).Named("volume"),
		volume: clamp(config.Initial),
		post:   ui.Inline,
	}

	for _, b := range backends {
		control, level, ok := c.discover(ctx, b)
		if !ok {
			continue
		}
		c.backend = b
		c.control = control
		c.volume = level.Percent
		c.logger.Info("Volume control selected",
			zap.String("backend", b.Name()), zap.String("control", control), zap.Int("volume", level.Percent))
		return c
	}

	c.logger.Info("No working mixer control, volume runs in mock mode")
	return c
}

// discover returns the best working control of b
func (c *Controller) discover(ctx context.Context, b Backend) (string, Level, bool) {
	cctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	controls, err := b.Controls(cctx)
	cancel()
	if err != nil {
		c.logger.Debug("Mixer backend unavailable", zap.String("backend", b.Name()), zap.Error(err))
		return "", Level{}, false
	}

	sort.SliceStable(controls, func(i, j int) bool { return rank(controls[i]) < rank(controls[j]) })

	for _, control := range controls {
		cctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
		level, err := b.Get(cctx, control)
		cancel()
		if err != nil || level.Muted {
			c.logger.Debug("Mixer control rejected",
				zap.String("backend", b.Name()), zap.String("control", control),
				zap.Bool("muted", level.Muted), zap.Error(err))
			continue
		}
		return control, level, true
	}
	return "", Level{}, false
}

// OnChange registers the change listener and the UI post function
func (c *Controller) OnChange(post ui.PostFunc, fn ChangeFunc) {
	if post == nil {
		post = ui.Inline
	}
	c.mu.Lock()
	c.post = post
	c.onChange = fn
	c.mu.Unlock()
}

// Get returns the current volume, refreshed from the mixer when possible
func (c *Controller) Get() int {
	c.mu.Lock()
	backend, control, cached := c.backend, c.control, c.volume
	c.mu.Unlock()

	if backend == nil {
		return cached
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.CommandTimeout)
	defer cancel()
	level, err := backend.Get(ctx, control)
	if err != nil {
		c.logger.Debug("Volume read failed, using cached value", zap.Error(err))
		return cached
	}

	c.mu.Lock()
	c.volume = level.Percent
	c.muted = level.Muted
	c.mu.Unlock()
	return level.Percent
}

// Set changes the volume, clamped to [0,100], and returns the new value
func (c *Controller) Set(percent int) (int, error) {
	return c.apply(clamp(percent), DirectionSet)
}

// Up raises the volume by step; step <= 0 uses the configured step
func (c *Controller) Up(step int) (int, error) {
	if step <= 0 {
		step = c.config.Step
	}
	return c.apply(clamp(c.Get()+step), DirectionUp)
}

// Down lowers the volume by step; step <= 0 uses the configured step
func (c *Controller) Down(step int) (int, error) {
	if step <= 0 {
		step = c.config.Step
	}
	return c.apply(clamp(c.Get()-step), DirectionDown)
}

func (c *Controller) apply(percent int, dir Direction) (int, error) {
	c.mu.Lock()
	backend, control := c.backend, c.control
	c.mu.Unlock()

	if backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.CommandTimeout)
		defer cancel()
		if err := backend.Set(ctx, control, percent); err != nil {
			c.logger.Warn("Failed to set volume", zap.Int("volume", percent), zap.Error(err))
			return c.cached(), err
		}
	}

	c.mu.Lock()
	c.volume = percent
	c.mu.Unlock()

	c.notify(percent, dir)
	return percent, nil
}

// Mute silences the output
func (c *Controller) Mute() error {
	return c.setMute(true)
}

// Unmute restores the output
func (c *Controller) Unmute() error {
	return c.setMute(false)
}

func (c *Controller) setMute(muted bool) error {
	c.mu.Lock()
	backend, control := c.backend, c.control
	c.mu.Unlock()

	if backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.CommandTimeout)
		defer cancel()
		if err := backend.SetMute(ctx, control, muted); err != nil {
			c.logger.Warn("Failed to change mute", zap.Bool("muted", muted), zap.Error(err))
			return err
		}
	}

	c.mu.Lock()
	c.muted = muted
	percent := c.volume
	c.mu.Unlock()

	dir := DirectionUnmute
	if muted {
		dir = DirectionMute
	}
	c.notify(percent, dir)
	return nil
}

func (c *Controller) cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *Controller) notify(percent int, dir Direction) {
	c.mu.Lock()
	post, fn := c.post, c.onChange
	c.mu.Unlock()
	if fn == nil {
		return
	}
	post(func() { fn(percent, dir) })
}

// Status reports the backend in use
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Mode:    ModeMock,
		Control: c.control,
		Volume:  c.volume,
		Muted:   c.muted,
		Mock:    c.backend == nil,
		Buttons: c.buttons != nil,
	}
	if c.backend != nil {
		st.Mode = c.backend.Name()
	}
	return st
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}
