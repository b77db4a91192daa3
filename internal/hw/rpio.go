package hw

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// rpio maps /dev/gpiomem once per process; pins share the mapping
var (
	rpioMu   sync.Mutex
	rpioRefs int
)

// RPIO accesses the BCM2835 GPIO registers directly through go-rpio
type RPIO struct{}

func (*RPIO) Name() string { return "rpio" }

// OpenInput configures pin as an input with the requested bias
func (*RPIO) OpenInput(pin int, pull Pull) (InputPin, error) {
	if pin < 0 || pin > 53 {
		return nil, fmt.Errorf("%w: rpio: invalid pin %d", ErrUnavailable, pin)
	}

	rpioMu.Lock()
	defer rpioMu.Unlock()

	if rpioRefs == 0 {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("%w: rpio: %v", ErrUnavailable, err)
		}
	}
	rpioRefs++

	p := rpio.Pin(pin)
	p.Input()
	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	default:
		p.PullOff()
	}
	return &rpioPin{pin: p}, nil
}

type rpioPin struct {
	pin  rpio.Pin
	once sync.Once
}

func (p *rpioPin) Read() (bool, error) {
	return p.pin.Read() == rpio.High, nil
}

func (p *rpioPin) Close() error {
	var err error
	p.once.Do(func() {
		rpioMu.Lock()
		defer rpioMu.Unlock()
		rpioRefs--
		if rpioRefs == 0 {
			err = rpio.Close()
		}
	})
	return err
}
