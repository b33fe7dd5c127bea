package bus

import (
	"context"
	"sync"
	"time"

	"oj/internal/logging"
)

// DefaultChannelBuffer bounds each subscriber's inbox. Publish never blocks
// on a slow subscriber past this buffer; once full, further events for that
// subscriber are dropped and logged (spec.md §4.6: "the bus ignores closed
// channels" — a full channel on a still-open subscriber is the same kind of
// best-effort delivery).
const DefaultChannelBuffer = 256

// Subscription is a registered interest in one or more event-name patterns.
type Subscription struct {
	ID          uint64
	Patterns    []string
	Description string

	ch     chan Event
	closed bool
}

// Events returns the channel this subscription receives matching events on.
func (s *Subscription) Events() <-chan Event { return s.ch }

// GlobalHandler receives every published event, used for the audit/event
// log. Only one may be set at a time (spec.md §4.6).
type GlobalHandler func(Event)

// Bus is the engine's publish/subscribe hub.
type Bus struct {
	mu            sync.RWMutex
	subs          map[uint64]*Subscription
	nextID        uint64
	global        GlobalHandler
	logger        logging.Logger
	bufferSize    int
	publishedSeen int64
}

// New creates an empty Bus.
func New(logger logging.Logger) *Bus {
	return &Bus{
		subs:       make(map[uint64]*Subscription),
		logger:     logging.OrNop(logger),
		bufferSize: DefaultChannelBuffer,
	}
}

// Subscribe registers interest in the given patterns and returns a
// Subscription whose Events() channel receives matching events in
// publication order.
func (b *Bus) Subscribe(description string, patterns ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		ID:          b.nextID,
		Patterns:    patterns,
		Description: description,
		ch:          make(chan Event, b.bufferSize),
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; !ok {
		return
	}
	delete(b.subs, sub.ID)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// SetGlobalHandler installs the single global handler, replacing any prior
// one.
func (b *Bus) SetGlobalHandler(h GlobalHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = h
}

// Publish delivers ev to every subscription whose pattern set matches its
// name, and to the global handler if set. Publish does not block: a
// subscriber whose channel is full is skipped (logged), never blocking
// other subscribers or the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.global != nil {
		b.global(ev)
	}

	for _, sub := range b.subs {
		if !subMatches(sub, ev.Name) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("bus: subscriber %d (%s) inbox full, dropping %s", sub.ID, sub.Description, ev.Name)
		}
	}
}

func subMatches(sub *Subscription, name string) bool {
	for _, p := range sub.Patterns {
		if Matches(p, name) {
			return true
		}
	}
	return false
}

// WaitFor blocks on sub until an event arrives, ctx is cancelled, or
// timeout elapses. Used by tests asserting on published events.
func WaitFor(ctx context.Context, sub *Subscription, timeout time.Duration) (Event, bool) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}
	select {
	case ev, ok := <-sub.Events():
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	case <-timeoutC:
		return Event{}, false
	}
}

// Name implements lifecycle.Drainable.
func (b *Bus) Name() string { return "event-bus" }

// Drain unsubscribes and closes every remaining subscription. Safe to call
// once during shutdown.
func (b *Bus) Drain(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(b.subs, id)
	}
	return nil
}
