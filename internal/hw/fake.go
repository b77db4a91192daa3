package hw

import (
	"fmt"
	"sync"
)

// Fake is an in-memory driver whose pin levels are set programmatically.
// It backs tests and runs without GPIO hardware.
type Fake struct {
	mu      sync.Mutex
	levels  map[int]bool
	opened  map[int]int
	readErr error
	// Fail makes every OpenInput return ErrUnavailable
	Fail bool
}

// NewFake creates a fake driver with all pins low
func NewFake() *Fake {
	return &Fake{levels: make(map[int]bool), opened: make(map[int]int)}
}

func (f *Fake) Name() string { return "fake" }

// OpenInput opens pin. Pull-up pins start high unless already set.
func (f *Fake) OpenInput(pin int, pull Pull) (InputPin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return nil, fmt.Errorf("%w: fake", ErrUnavailable)
	}
	if _, ok := f.levels[pin]; !ok {
		f.levels[pin] = pull == PullUp
	}
	f.opened[pin]++
	return &fakePin{driver: f, pin: pin}, nil
}

// Set drives pin to level
func (f *Fake) Set(pin int, high bool) {
	f.mu.Lock()
	f.levels[pin] = high
	f.mu.Unlock()
}

// SetReadError makes subsequent reads fail with err (nil clears it)
func (f *Fake) SetReadError(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

// Opened returns how many times pin is currently open
func (f *Fake) Opened(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[pin]
}

type fakePin struct {
	driver *Fake
	pin    int
	once   sync.Once
}

func (p *fakePin) Read() (bool, error) {
	p.driver.mu.Lock()
	defer p.driver.mu.Unlock()
	if p.driver.readErr != nil {
		return false, p.driver.readErr
	}
	return p.driver.levels[p.pin], nil
}

func (p *fakePin) Close() error {
	p.once.Do(func() {
		p.driver.mu.Lock()
		p.driver.opened[p.pin]--
		p.driver.mu.Unlock()
	})
	return nil
}
