// Package sensor samples the digital light sensor and smooths its readings
// into a light/dark state.
package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/hw"
	"github.com/homeclock/clockd/internal/logging"
)

// ErrUnavailable is returned when no backend could be opened
var ErrUnavailable = errors.New("light sensor unavailable")

// Backend produces raw light readings; true means light
type Backend interface {
	Name() string
	Read() (bool, error)
	Close() error
}

// Config holds sensor configuration
type Config struct {
	Pin             int           // BCM pin of the sensor's digital output
	ActiveLow       bool          // output is low when light
	Drivers         []string      // GPIO drivers tried in order
	Simulate        bool          // fall back to the day/night simulator
	WindowSize      int           // readings kept for smoothing
	Interval        time.Duration // sampling period
	LightThreshold  float64       // mean at or above which the state is light
	DarkThreshold   float64       // mean at or below which the state is dark
	ConfidenceLevel float64       // share of the window required to confirm a change
	FlipChance      float64       // simulator: probability of a random flip
}

// DefaultConfig returns default sensor configuration
func DefaultConfig() Config {
	return Config{
		Pin:             4,
		ActiveLow:       true,
		Drivers:         []string{"rpio", "periph"},
		Simulate:        true,
		WindowSize:      4,
		Interval:        time.Second,
		LightThreshold:  0.6,
		DarkThreshold:   0.4,
		ConfidenceLevel: 0.7,
		FlipChance:      0.02,
	}
}

// Reading is a single sample
type Reading struct {
	Raw     int       `json:"raw"`
	Light   bool      `json:"light"`
	TakenAt time.Time `json:"taken_at"`
}

// Readings is a snapshot of the reader's state
type Readings struct {
	Backend         string    `json:"backend"`
	Available       bool      `json:"available"`
	Simulated       bool      `json:"simulated"`
	Light           bool      `json:"light"`
	Confidence      float64   `json:"confidence"`
	ConfidenceLevel float64   `json:"confidence_level"`
	Window          []int     `json:"window"`
	LastReading     time.Time `json:"last_reading"`
	ReadErrors      int       `json:"read_errors"`
}

// Reader samples a backend on a fixed interval
type Reader struct {
	config  Config
	logger  *zap.Logger
	clock   clock.PassiveClock
	backend Backend

	mu              sync.Mutex
	window          []int
	initialized     bool
	light           bool
	reported        bool
	changed         bool
	confidenceLevel float64
	last            Reading
	readErrors      int
	onSample        func(Readings)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New opens the light input with the configured GPIO drivers, falling back
// to the simulator when allowed. Without any backend the reader is returned
// unavailable together with ErrUnavailable.
func New(config Config, logger *zap.Logger, clk clock.PassiveClock, drivers ...hw.Driver) (*Reader, error) {
	logger = logging.OrNop(logger).Named("sensor")
	if clk == nil {
		clk = clock.RealClock{}
	}
	if len(drivers) == 0 {
		drivers = hw.Drivers(config.Drivers...)
	}

	var backend Backend
	pin, name, err := hw.OpenFirst(logger, config.Pin, hw.PullNone, drivers...)
	switch {
	case err == nil:
		backend = &pinBackend{name: name, pin: pin, activeLow: config.ActiveLow}
	case config.Simulate:
		logger.Info("No GPIO light sensor, using simulator", zap.Error(err))
		backend = NewSimulator(clk, config.FlipChance, nil)
	default:
		logger.Warn("Light sensor unavailable", zap.Error(err))
	}

	r := NewWithBackend(config, backend, logger, clk)
	if backend == nil {
		return r, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r, nil
}

// NewWithBackend creates a reader over an already opened backend. A nil
// backend yields an unavailable reader.
func NewWithBackend(config Config, backend Backend, logger *zap.Logger, clk clock.PassiveClock) *Reader {
	if config.WindowSize <= 0 {
		config.WindowSize = 4
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Reader{
		config:          config,
		logger:          logging.OrNop(logger),
		clock:           clk,
		backend:         backend,
		confidenceLevel: config.ConfidenceLevel,
		stopChan:        make(chan struct{}),
	}
}

// OnSample registers a callback invoked after every successful sample, on
// the sampling goroutine
func (r *Reader) OnSample(fn func(Readings)) {
	r.mu.Lock()
	r.onSample = fn
	r.mu.Unlock()
}

// Start launches the sampling loop
func (r *Reader) Start() error {
	if r.backend == nil {
		return ErrUnavailable
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.sampleLoop()

	r.logger.Info("Light sensor started", zap.String("backend", r.backend.Name()))
	return nil
}

// Stop ends the sampling loop and releases the backend. It is idempotent.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
		if r.backend != nil {
			if err := r.backend.Close(); err != nil {
				r.logger.Warn("Failed to close light sensor", zap.Error(err))
			}
		}
	})
}

func (r *Reader) sampleLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if _, err := r.Sample(); err != nil {
				r.logger.Debug("Light sensor read failed", zap.Error(err))
			}
		}
	}
}

// Sample takes one reading and updates the smoothed state
func (r *Reader) Sample() (Reading, error) {
	if r.backend == nil {
		return Reading{}, ErrUnavailable
	}

	light, err := r.backend.Read()
	if err != nil {
		r.mu.Lock()
		r.readErrors++
		r.mu.Unlock()
		return Reading{}, err
	}

	raw := 0
	if light {
		raw = 1
	}
	now := r.clock.Now()

	r.mu.Lock()
	r.record(raw)
	r.last = Reading{Raw: raw, Light: r.light, TakenAt: now}
	reading := r.last
	cb := r.onSample
	var snapshot Readings
	if cb != nil {
		snapshot = r.readingsLocked()
	}
	r.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
	return reading, nil
}

// record appends a raw reading and recomputes the smoothed state.
// Caller holds r.mu.
func (r *Reader) record(raw int) {
	r.window = append(r.window, raw)
	if len(r.window) > r.config.WindowSize {
		r.window = r.window[len(r.window)-r.config.WindowSize:]
	}

	if !r.initialized {
		r.light = raw == 1
		r.reported = r.light
		r.initialized = true
		return
	}

	sum := 0
	for _, v := range r.window {
		sum += v
	}
	mean := float64(sum) / float64(len(r.window))
	switch {
	case mean >= r.config.LightThreshold:
		r.light = true
	case mean <= r.config.DarkThreshold:
		r.light = false
	}

	if r.light != r.reported && r.confidenceLocked(r.light) >= r.confidenceLevel {
		r.reported = r.light
		r.changed = true
	}
}

// confidenceLocked is the share of the window agreeing with candidate,
// measured against the configured window size
func (r *Reader) confidenceLocked(candidate bool) float64 {
	want := 0
	if candidate {
		want = 1
	}
	n := 0
	for _, v := range r.window {
		if v == want {
			n++
		}
	}
	return float64(n) / float64(r.config.WindowSize)
}

// Available reports whether a backend is open
func (r *Reader) Available() bool {
	return r.backend != nil
}

// IsLight returns the smoothed state
func (r *Reader) IsLight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.light
}

// IsLightChanged reports a confirmed transition once, then resets
func (r *Reader) IsLightChanged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.changed
	r.changed = false
	return changed
}

// Confidence returns the share of the window agreeing with the current state
func (r *Reader) Confidence() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confidenceLocked(r.light)
}

// ClearWindow drops the sample history; the next reading bootstraps the state
func (r *Reader) ClearWindow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = r.window[:0]
	r.initialized = false
	r.changed = false
}

// SetConfidenceLevel changes the share required to confirm a transition
func (r *Reader) SetConfidenceLevel(level float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confidenceLevel = level
}

// Readings returns a snapshot of the reader
func (r *Reader) Readings() Readings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readingsLocked()
}

func (r *Reader) readingsLocked() Readings {
	out := Readings{
		Available:       r.backend != nil,
		Light:           r.light,
		Confidence:      r.confidenceLocked(r.light),
		ConfidenceLevel: r.confidenceLevel,
		Window:          append([]int(nil), r.window...),
		LastReading:     r.last.TakenAt,
		ReadErrors:      r.readErrors,
	}
	if r.backend != nil {
		out.Backend = r.backend.Name()
		_, out.Simulated = r.backend.(*Simulator)
	}
	return out
}

// pinBackend adapts a GPIO input
type pinBackend struct {
	name      string
	pin       hw.InputPin
	activeLow bool
}

func (b *pinBackend) Name() string { return b.name }

func (b *pinBackend) Read() (bool, error) {
	high, err := b.pin.Read()
	if err != nil {
		return false, err
	}
	return high != b.activeLow, nil
}

func (b *pinBackend) Close() error { return b.pin.Close() }
