// Package eventbus is an in-process publish/subscribe hub keyed by event
// name. Delivery is synchronous on the publisher's goroutine.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/logging"
)

// Handler receives an event payload. A returned error is logged and does not
// stop delivery to the remaining subscribers.
type Handler func(payload any) error

// Subscription identifies one registered handler
type Subscription struct {
	ID   uuid.UUID
	Name string
}

type registration struct {
	id      uuid.UUID
	handler Handler
}

// Bus dispatches events to subscribers in registration order
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]registration
	logger *zap.Logger
}

// New creates an empty bus
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]registration),
		logger: logging.OrNop(logger).Named("eventbus"),
	}
}

// Subscribe registers handler for name. Subscribing the same function twice
// yields two independent subscriptions.
func (b *Bus) Subscribe(name string, handler Handler) Subscription {
	sub := Subscription{ID: uuid.New(), Name: name}

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], registration{id: sub.ID, handler: handler})
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscription; it reports false if it was not present
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.subs[sub.Name]
	for i, r := range regs {
		if r.id != sub.ID {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, sub.Name)
		} else {
			b.subs[sub.Name] = next
		}
		return true
	}
	return false
}

// Publish delivers payload to every subscriber of name and returns how many
// handlers completed without error.
//
// The subscriber list is snapshotted before delivery, so handlers may publish,
// subscribe or unsubscribe freely; changes apply to later publishes. A nil
// Bus discards events.
func (b *Bus) Publish(name string, payload any) int {
	if b == nil {
		return 0
	}

	b.mu.RLock()
	regs := b.subs[name]
	b.mu.RUnlock()

	delivered := 0
	for _, r := range regs {
		if err := b.deliver(r, payload); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("event", name),
				zap.String("subscription", r.id.String()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// SubscriberCount returns the number of handlers registered for name
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

func (b *Bus) deliver(r registration, payload any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return r.handler(payload)
}
