// Package audio plays sound files one at a time, arbitrating between long
// media (ringtones) and short UI cues.
package audio

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/homeclock/clockd/internal/logging"
)

// ErrNoFile is returned when asked to play an empty path
var ErrNoFile = errors.New("no file to play")

// Category decides the playback policy for a file
type Category int

const (
	Short Category = iota // UI cue
	Long                  // ringtone or media
)

func (c Category) String() string {
	if c == Long {
		return "long"
	}
	return "short"
}

// shortCues are the base names of the UI sound effects
var shortCues = map[string]bool{
	"click":   true,
	"confirm": true,
	"error":   true,
	"notify":  true,
	"startup": true,
}

// Classify returns Short for well-known UI cue names and Long otherwise
func Classify(path string) Category {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if shortCues[base] {
		return Short
	}
	return Long
}

// Mixer is the output device. Play starts a file and returns once it is
// playing; Stop silences output; Busy reports whether anything still plays.
type Mixer interface {
	Play(path string) error
	Stop()
	Busy() bool
}

// State is the player's view of what is playing
type State struct {
	Playing bool   `json:"playing"`
	File    string `json:"file"`
	Long    bool   `json:"long"`
}

// Config holds player configuration
type Config struct {
	ShortThrottle time.Duration // minimum gap between two short cues
}

// DefaultConfig returns default player configuration
func DefaultConfig() Config {
	return Config{ShortThrottle: 200 * time.Millisecond}
}

// Player enforces the single-track policy on top of a Mixer
type Player struct {
	mixer   Mixer
	clock   clock.PassiveClock
	logger  *zap.Logger
	limiter *rate.Limiter

	mu    sync.Mutex
	state State
}

// NewPlayer creates a player over mixer
func NewPlayer(mixer Mixer, config Config, logger *zap.Logger, clk clock.PassiveClock) *Player {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if config.ShortThrottle <= 0 {
		config.ShortThrottle = 200 * time.Millisecond
	}
	return &Player{
		mixer:   mixer,
		clock:   clk,
		logger:  logging.OrNop(logger).Named("audio"),
		limiter: rate.NewLimiter(rate.Every(config.ShortThrottle), 1),
	}
}

// Play plays path with the policy of its classified category
func (p *Player) Play(path string) (bool, error) {
	return p.PlayAs(path, Classify(path))
}

// PlayLong stops any current output and plays path
func (p *Player) PlayLong(path string) (bool, error) {
	return p.PlayAs(path, Long)
}

// PlayShort plays a UI cue unless a long file is active or another cue
// started less than the throttle interval ago
func (p *Player) PlayShort(path string) (bool, error) {
	return p.PlayAs(path, Short)
}

// PlayAs plays path as category. It returns false without error when the
// policy drops the request.
func (p *Player) PlayAs(path string, category Category) (bool, error) {
	if path == "" {
		return false, ErrNoFile
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.reconcileLocked()

	if category == Short {
		if p.state.Playing && p.state.Long {
			p.logger.Debug("Short sound dropped during long playback", zap.String("file", path))
			return false, nil
		}
		if !p.limiter.AllowN(p.clock.Now(), 1) {
			p.logger.Debug("Short sound throttled", zap.String("file", path))
			return false, nil
		}
	}

	if p.state.Playing {
		p.mixer.Stop()
		p.state = State{}
	}

	if err := p.mixer.Play(path); err != nil {
		p.state = State{}
		p.logger.Warn("Playback failed", zap.String("file", path), zap.Error(err))
		return false, err
	}

	p.state = State{Playing: true, File: path, Long: category == Long}
	p.logger.Debug("Playing", zap.String("file", path), zap.Stringer("category", category))
	return true, nil
}

// Stop silences output and resets the state
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mixer.Stop()
	p.state = State{}
}

// IsBusy reports whether a file is still playing
func (p *Player) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconcileLocked()
	return p.state.Playing
}

// State returns what is playing
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconcileLocked()
	return p.state
}

// reconcileLocked clears the state once the mixer finished on its own
func (p *Player) reconcileLocked() {
	if p.state.Playing && !p.mixer.Busy() {
		p.state = State{}
	}
}
