// Package eventbus fans out operational events to observers. It is an
// observability feed only: nothing on a correctness path may depend on it.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Level classifies an event for observers.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

const (
	DefaultHistorySize    = 200
	DefaultSubscriberSize = 100
)

// Event is a single operational notification.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra"`
}

// Subscription is a live feed of events published after Subscribe returned.
type Subscription struct {
	ch     chan Event
	closed bool
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Bus is a process-wide publish/subscribe channel with a bounded replay
// buffer. Publishing never blocks: a full subscriber loses the event.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	ring    []Event
	next    int
	filled  bool
	bufSize int
	now     func() time.Time
	dropped atomic.Int64
}

// Option customizes a Bus.
type Option func(*Bus)

// WithSubscriberBuffer sets the capacity of each subscriber channel.
func WithSubscriberBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a bus keeping the last historySize events.
func New(historySize int, opts ...Option) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	b := &Bus{
		subs:    make(map[*Subscription]struct{}),
		ring:    make([]Event, historySize),
		bufSize: DefaultSubscriberSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records an event and offers it to every subscriber.
func (b *Bus) Publish(level Level, message string, extra map[string]any) {
	if b == nil {
		return
	}
	if extra == nil {
		extra = map[string]any{}
	}
	evt := Event{
		Timestamp: b.now(),
		Level:     level,
		Message:   message,
		Extra:     extra,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = evt
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.filled = true
	}
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) Info(message string, extra map[string]any) {
	b.Publish(LevelInfo, message, extra)
}

func (b *Bus) Warn(message string, extra map[string]any) {
	b.Publish(LevelWarning, message, extra)
}

func (b *Bus) Error(message string, extra map[string]any) {
	b.Publish(LevelError, message, extra)
}

func (b *Bus) Success(message string, extra map[string]any) {
	b.Publish(LevelSuccess, message, extra)
}

// Subscribe registers a new observer. Backlog must be read via History.
// A nil bus hands out an already closed subscription.
func (b *Bus) Subscribe() *Subscription {
	if b == nil {
		sub := &Subscription{ch: make(chan Event), closed: true}
		close(sub.ch)
		return sub
	}
	sub := &Subscription{ch: make(chan Event, b.bufSize)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes an observer and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if b == nil || sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.ch)
}

// History returns a snapshot of buffered events, oldest first.
func (b *Bus) History() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.filled {
		out := make([]Event, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]Event, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
