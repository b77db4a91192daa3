// Package hw provides GPIO input access for the clock's sensors and buttons.
// Several drivers implement the same interface so callers can fall back from
// register-level access to the generic periph stack.
package hw

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/logging"
)

// ErrUnavailable is returned when a driver cannot provide a pin
var ErrUnavailable = errors.New("gpio unavailable")

// Pull selects the input bias resistor
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// InputPin is an opened GPIO input
type InputPin interface {
	// Read returns true when the pin is high
	Read() (bool, error)
	Close() error
}

// Driver opens GPIO inputs by BCM pin number
type Driver interface {
	Name() string
	OpenInput(pin int, pull Pull) (InputPin, error)
}

// OpenFirst opens pin with the first driver that succeeds and returns that
// driver's name. Each failure is logged as a demotion to the next driver.
func OpenFirst(logger *zap.Logger, pin int, pull Pull, drivers ...Driver) (InputPin, string, error) {
	logger = logging.OrNop(logger)
	var errs []error
	for _, d := range drivers {
		p, err := d.OpenInput(pin, pull)
		if err == nil {
			return p, d.Name(), nil
		}
		logger.Info("GPIO driver unavailable, trying next",
			zap.String("driver", d.Name()), zap.Int("pin", pin), zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, "", fmt.Errorf("%w: no drivers configured", ErrUnavailable)
	}
	return nil, "", fmt.Errorf("%w: pin %d: %w", ErrUnavailable, pin, errors.Join(errs...))
}

// Drivers returns the drivers for the given names in order. Unknown names
// are skipped.
func Drivers(names ...string) []Driver {
	var out []Driver
	for _, n := range names {
		switch n {
		case "rpio":
			out = append(out, &RPIO{})
		case "periph":
			out = append(out, &Periph{})
		}
	}
	return out
}
