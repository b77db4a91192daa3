package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var periphInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// Periph opens pins through the periph.io host drivers
type Periph struct{}

func (*Periph) Name() string { return "periph" }

// OpenInput looks pin up as "GPIO<n>" in the periph registry
func (*Periph) OpenInput(pin int, pull Pull) (InputPin, error) {
	if err := periphInit(); err != nil {
		return nil, fmt.Errorf("%w: periph: %v", ErrUnavailable, err)
	}

	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: periph: no pin %s", ErrUnavailable, name)
	}

	bias := gpio.Float
	switch pull {
	case PullUp:
		bias = gpio.PullUp
	case PullDown:
		bias = gpio.PullDown
	}
	if err := p.In(bias, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: periph: %s: %v", ErrUnavailable, name, err)
	}
	return &periphPin{pin: p}, nil
}

type periphPin struct {
	pin gpio.PinIO
}

func (p *periphPin) Read() (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

func (p *periphPin) Close() error {
	return p.pin.Halt()
}
