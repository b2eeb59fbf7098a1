// Package event provides an in-process publish/subscribe bus used to fan
// out epoch, streak, and mining milestone notifications. Delivery is
// fire-and-forget: a slow or absent subscriber never blocks the publisher.
package event

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types published by the core services.
const (
	TypeEpochStarted    = "epoch_started"
	TypeEpochEnded      = "epoch_ended"
	TypeStreakClaimed   = "streak_claimed"
	TypeMiningMilestone = "mining_milestone"
)

// Event is a single notification.
type Event struct {
	Type       string
	UserID     string // empty for broadcast events
	Message    string
	OccurredAt time.Time
}

// Bus is an in-process event bus. Subscribers receive events on buffered
// channels; events are dropped (and logged) rather than queued unboundedly.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus creates a new Bus instance.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the event to all subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			log.Warn().
				Str("type", evt.Type).
				Str("user_id", evt.UserID).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// Notify is a convenience wrapper for publishing a typed message.
func (b *Bus) Notify(eventType, userID, message string) {
	b.Publish(Event{Type: eventType, UserID: userID, Message: message})
}
