package sensor

import (
	"math/rand/v2"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// dayStart and dayEnd bound the simulated daylight
const (
	dayStart = 6 * time.Hour
	dayEnd   = 22 * time.Hour
)

// Simulator reports light between 06:00 and 22:00 local time, with an
// occasional random flip
type Simulator struct {
	clock      clock.PassiveClock
	flipChance float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator. A nil rng is seeded from the clock.
func NewSimulator(clk clock.PassiveClock, flipChance float64, rng *rand.Rand) *Simulator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if rng == nil {
		seed := uint64(clk.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Simulator{clock: clk, flipChance: flipChance, rng: rng}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Read() (bool, error) {
	now := s.clock.Now()
	sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
	light := sinceMidnight >= dayStart && sinceMidnight < dayEnd

	s.mu.Lock()
	flip := s.rng.Float64() < s.flipChance
	s.mu.Unlock()

	if flip {
		light = !light
	}
	return light, nil
}

func (s *Simulator) Close() error { return nil }
