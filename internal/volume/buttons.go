package volume

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/hw"
)

// ErrNoButtons is returned when neither button pin is configured
var ErrNoButtons = errors.New("no volume button pins configured")

// buttonWatcher polls up to two active-low push buttons. A nil pin is a
// button that is not fitted.
type buttonWatcher struct {
	ctrl     *Controller
	up, down hw.InputPin
	debounce time.Duration
	poll     time.Duration

	lastPress        time.Time
	upHeld, downHeld bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// openButton opens pin with the first driver that works. Pin 0 is not
// fitted and yields a nil pin.
func (c *Controller) openButton(pin int, drivers []hw.Driver) (hw.InputPin, string, error) {
	if pin == 0 {
		return nil, "", nil
	}
	return hw.OpenFirst(c.logger, pin, hw.PullUp, drivers...)
}

// StartButtons opens the configured button pins with the first driver that
// works and starts polling them. Either button may be left unconfigured.
func (c *Controller) StartButtons(drivers ...hw.Driver) error {
	if c.config.ButtonUpPin == 0 && c.config.ButtonDownPin == 0 {
		return ErrNoButtons
	}

	up, upDriver, err := c.openButton(c.config.ButtonUpPin, drivers)
	if err != nil {
		return err
	}
	down, downDriver, err := c.openButton(c.config.ButtonDownPin, drivers)
	if err != nil {
		closePin(up)
		return err
	}
	name := upDriver
	if name == "" {
		name = downDriver
	}

	w := &buttonWatcher{
		ctrl:     c,
		up:       up,
		down:     down,
		debounce: c.config.Debounce,
		poll:     c.config.PollInterval,
		stopChan: make(chan struct{}),
	}
	if w.debounce < 300*time.Millisecond {
		w.debounce = 300 * time.Millisecond
	}
	if w.poll <= 0 {
		w.poll = 50 * time.Millisecond
	}

	c.mu.Lock()
	if c.buttons != nil {
		c.mu.Unlock()
		closePin(up)
		closePin(down)
		return nil
	}
	c.buttons = w
	c.mu.Unlock()

	w.wg.Add(1)
	go w.pollLoop()

	c.logger.Info("Volume buttons started",
		zap.String("driver", name), zap.Int("up_pin", c.config.ButtonUpPin), zap.Int("down_pin", c.config.ButtonDownPin))
	return nil
}

// StopButtons stops the watcher and releases the pins
func (c *Controller) StopButtons() {
	c.mu.Lock()
	w := c.buttons
	c.buttons = nil
	c.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (w *buttonWatcher) stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		closePin(w.up)
		closePin(w.down)
	})
}

func closePin(p hw.InputPin) {
	if p != nil {
		_ = p.Close()
	}
}

// pressed reads an active-low button. A missing button is never pressed.
func pressed(p hw.InputPin) (bool, error) {
	if p == nil {
		return false, nil
	}
	level, err := p.Read()
	return !level, err
}

func (w *buttonWatcher) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case now := <-ticker.C:
			w.check(now)
		}
	}
}

// check samples both buttons and acts on a new press. Holding both buttons
// does nothing.
func (w *buttonWatcher) check(now time.Time) {
	upPressed, err := pressed(w.up)
	if err != nil {
		return
	}
	downPressed, err := pressed(w.down)
	if err != nil {
		return
	}

	defer func() {
		w.upHeld, w.downHeld = upPressed, downPressed
	}()

	if upPressed && downPressed {
		return
	}
	if now.Sub(w.lastPress) < w.debounce {
		return
	}

	switch {
	case upPressed && !w.upHeld:
		w.lastPress = now
		if _, err := w.ctrl.Up(0); err != nil {
			w.ctrl.logger.Debug("Volume up failed", zap.Error(err))
		}
	case downPressed && !w.downHeld:
		w.lastPress = now
		if _, err := w.ctrl.Down(0); err != nil {
			w.ctrl.logger.Debug("Volume down failed", zap.Error(err))
		}
	}
}
