// Package monitor fans out live call events to operators watching over a
// websocket.
package monitor

import (
	"sync"
	"time"
)

// Event kinds.
const (
	KindGreeting  = "greeting"
	KindSilence   = "silence"
	KindTransfer  = "transfer"
	KindEscape    = "escape"
	KindReplay    = "replay"
	KindReply     = "reply"
	KindTimeout   = "timeout"
	KindError     = "error"
	KindHangup    = "hangup"
	KindTimeLimit = "time_limit"
	KindEnded     = "ended"
)

// Event describes one thing that happened on a call.
type Event struct {
	Kind       string    `json:"kind"`
	CallSid    string    `json:"call_sid"`
	BusinessID string    `json:"business_id,omitempty"`
	Step       string    `json:"step,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	Caller     string    `json:"caller,omitempty"`
	Reply      string    `json:"reply,omitempty"`
	Status     string    `json:"status,omitempty"`
	At         time.Time `json:"at"`
}

// Bus provides in-process pub/sub. Slow subscribers miss events rather than
// stall publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. The returned function unsubscribes
// and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room for it. A nil bus
// discards events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
