package ui

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/logging"
)

// Loop is a serial task queue standing in for a GUI main loop
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
}

// NewLoop creates an idle loop
func NewLoop(logger *zap.Logger) *Loop {
	l := &Loop{logger: logging.OrNop(logger).Named("ui")}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Post enqueues fn; it never blocks. Tasks posted after Run returned are
// dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

// Run executes posted tasks in order until ctx is done
func (l *Loop) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.stopped = true
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped {
			l.queue = nil
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(fn)
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("UI task panicked", zap.Any("panic", p))
		}
	}()
	fn()
}

// LogThemeApplier logs variant changes instead of restyling widgets
type LogThemeApplier struct {
	Logger *zap.Logger
}

func (a LogThemeApplier) ApplyThemeVariant(variant string) {
	logging.OrNop(a.Logger).Info("Theme variant applied", zap.String("variant", variant))
}

// HeadlessPopups logs alarm popups and dismisses them after Timeout. The
// timeout's dismiss callback runs through Post; nil runs it inline on the
// timer goroutine.
type HeadlessPopups struct {
	Logger  *zap.Logger
	Timeout time.Duration
	Post    PostFunc
}

// OpenAlarmPopup implements PopupOpener
func (h HeadlessPopups) OpenAlarmPopup(req AlarmPopup) (Popup, error) {
	logger := logging.OrNop(h.Logger)
	logger.Info("Alarm ringing", zap.String("time", req.Time), zap.String("ringtone", req.Ringtone))

	post := h.Post
	if post == nil {
		post = Inline
	}

	p := &headlessPopup{logger: logger}
	if h.Timeout > 0 && req.OnDismiss != nil {
		p.timer = time.AfterFunc(h.Timeout, func() {
			post(func() {
				if p.close("Alarm popup timed out") {
					req.OnDismiss()
				}
			})
		})
	}
	return p, nil
}

type headlessPopup struct {
	logger *zap.Logger
	timer  *time.Timer
	once   sync.Once
}

// close ends the popup once and reports whether this call ended it
func (p *headlessPopup) close(msg string) bool {
	closed := false
	p.once.Do(func() {
		closed = true
		if p.timer != nil {
			p.timer.Stop()
		}
		p.logger.Info(msg)
	})
	return closed
}

func (p *headlessPopup) Dismiss() {
	p.close("Alarm popup dismissed")
}
