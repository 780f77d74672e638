// Package stream fans watcher events out to live SSE and WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/restriction_watcher/internal/alert"
)

const subscriberBufSize = 64

// Event kinds.
const (
	KindAlert = "alert"
	KindTab   = "tab"
)

// Event is a single stream message. Payload is JSON.
type Event struct {
	Kind    string
	Payload string
}

// Broker fans out events to all subscribed clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishJSON marshals v and publishes it under kind.
func (b *Broker) PublishJSON(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal %s event: %w", kind, err)
	}
	b.Publish(Event{Kind: kind, Payload: string(data)})
	return nil
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped for slow clients.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// AlertSink publishes alerts to the broker.
type AlertSink struct {
	broker *Broker
}

func NewAlertSink(b *Broker) *AlertSink { return &AlertSink{broker: b} }

func (s *AlertSink) Name() string { return "stream" }

func (s *AlertSink) Deliver(_ context.Context, a alert.Alert) error {
	return s.broker.PublishJSON(KindAlert, a)
}
