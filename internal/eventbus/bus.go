// Package eventbus implements the non-blocking fan-out of §4.7: N
// subscribers (WebSocket sessions) each get a bounded queue; overflow
// policy differs by event type. Grounded on the handler-list broadcast
// shape in easyspace-ai-upcow's internal/infrastructure/websocket
// (a registered-callback fan-out driven by a single upstream feed),
// adapted from that repo's single-producer outbound client into a
// server-side hub since this spec's EventBus fans a tick loop's events
// out to many WebSocket sessions rather than fanning a market feed
// into one consumer.
package eventbus

import (
	"sync"
)

// EventType names the four frame kinds §6.2's WebSocket surface emits.
type EventType string

const (
	PriceUpdate EventType = "PRICE_UPDATE"
	OrderFilled EventType = "ORDER_FILLED"
	StateChange EventType = "STATE_CHANGE"
	LogEntry    EventType = "LOG_ENTRY"
)

// Event is one frame published to every subscriber.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// droppable reports whether an event type may be silently dropped on
// subscriber-queue overflow. Only price_update is lossy (§4.7); fills
// and state_change are never dropped.
func (e Event) droppable() bool { return e.Type == PriceUpdate }

// Bus fans events out to bounded per-subscriber channels.
type Bus struct {
	mu    sync.RWMutex
	depth int
	subs  map[int64]*subscriber
	next  int64
}

type subscriber struct {
	ch chan Event
}

// New builds a Bus with the configured per-subscriber queue depth
// (default 64 per §4.7/Config.EventQueueDepth).
func New(depth int) *Bus {
	if depth <= 0 {
		depth = 64
	}
	return &Bus{depth: depth, subs: map[int64]*subscriber{}}
}

// Subscribe registers a new subscriber and returns its id plus the
// channel to read events from. Call Unsubscribe when the session ends.
func (b *Bus) Subscribe() (int64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &subscriber{ch: make(chan Event, b.depth)}
	b.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish fans an event out to every subscriber. A droppable event
// (price_update) that finds a full queue is simply skipped for that
// subscriber. A non-droppable event (order_filled, state_change) that
// finds a full queue disconnects the subscriber instead, per §4.7's
// backpressure policy.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	toDisconnect := make([]int64, 0)
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if ev.droppable() {
				continue
			}
			toDisconnect = append(toDisconnect, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range toDisconnect {
		b.Unsubscribe(id)
	}
}

// SubscriberCount reports the current number of connected subscribers,
// used by /api/bot/status.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
