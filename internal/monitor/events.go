package monitor

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType names a live update pushed to dashboard clients.
type EventType string

const (
	EventTimeline        EventType = "timeline"
	EventRequest         EventType = "request"
	EventNotification    EventType = "notification"
	EventFeedState       EventType = "feed_state"
	EventInspectorStatus EventType = "inspector_status"
	EventCleared         EventType = "cleared"
)

// Event is one live update. Data is marshalled as-is.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// EventBus manages event publishing and subscription for SSE consumers.
type EventBus struct {
	events      chan Event
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	once        sync.Once
}

// NewEventBus creates a new event bus with the specified buffer size.
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		events:      make(chan Event, bufferSize),
		subscribers: make(map[chan Event]struct{}),
		shutdown:    make(chan struct{}),
	}

	go eb.forward()

	return eb
}

// forward fans events out to all subscribers.
func (eb *EventBus) forward() {
	for {
		select {
		case event, ok := <-eb.events:
			if !ok {
				return
			}
			// Sends happen under the read lock so Unsubscribe cannot close
			// a channel mid-send. Slow subscribers miss events.
			eb.mu.RLock()
			for ch := range eb.subscribers {
				select {
				case ch <- event:
				default:
				}
			}
			eb.mu.RUnlock()
		case <-eb.shutdown:
			return
		}
	}
}

// Publish publishes an event. It never blocks and drops the event if the
// buffer is full or the bus is shut down.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-eb.shutdown:
		return
	default:
	}
	select {
	case eb.events <- event:
	default:
	}
}

// Subscribe creates a new subscription channel for SSE consumers.
func (eb *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 32)
	eb.mu.Lock()
	eb.subscribers[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	if _, exists := eb.subscribers[ch]; exists {
		delete(eb.subscribers, ch)
		close(ch)
	}
	eb.mu.Unlock()
}

// Shutdown stops forwarding and closes every subscriber channel.
func (eb *EventBus) Shutdown() {
	eb.once.Do(func() {
		close(eb.shutdown)

		eb.mu.Lock()
		for ch := range eb.subscribers {
			close(ch)
		}
		eb.subscribers = make(map[chan Event]struct{})
		eb.mu.Unlock()
	})
}

// FormatSSEEvent formats an event as a Server-Sent Events frame.
func FormatSSEEvent(event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n", nil
}
