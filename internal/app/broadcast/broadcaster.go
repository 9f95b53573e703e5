// Package broadcast provides fan-out of queue events to firehose subscribers.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names pushed over the firehose.
const (
	EventAddedToQueue    = "AddedToQueue"
	EventPlayed          = "Played"
	EventSkipped         = "Skipped"
	EventRequestsAllowed = "RequestsAllowed"
)

// Message is the envelope every subscriber receives.
type Message struct {
	Timestamp int64  `json:"Timestamp"`
	EventType string `json:"EventType"`
	Data      any    `json:"Data"`
}

// Stream delivers envelopes to one subscriber.
type Stream interface {
	Send(Message) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Broadcaster manages subscriptions and fans events out to all of them.
// Delivery is fire-and-forget: a slow or dead subscriber silently loses
// its copy of an event.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (b *Broadcaster) Subscribe(stream Stream) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.subscriptions[id] = &subscription{id: id, stream: stream}
	return id
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, subscriptionID)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Broadcast sends an event envelope to every subscriber. Each send runs
// in its own goroutine with a timeout so one stalled connection cannot
// hold up the rest.
func (b *Broadcaster) Broadcast(eventType string, data any) {
	msg := Message{
		Timestamp: time.Now().UnixMilli(),
		EventType: eventType,
		Data:      data,
	}

	b.mu.RLock()
	// Copy subscriptions to avoid holding the lock during sends
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(msg)
			}()

			select {
			case <-done:
				// Errors are dropped; the socket layer unsubscribes
				// broken connections itself.
			case <-ctx.Done():
				// Timed out, move on.
			}
		}(sub)
	}
	wg.Wait()
}

// Close removes all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string]*subscription)
}
