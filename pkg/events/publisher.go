// Package events carries lifecycle notifications between components.
package events

import "sync"

// EventType represents the type of event
type EventType string

// Define event types
const (
	// EventConnectionClosed fires when an authenticated connection goes away.
	// Payload: ConnectionClosedPayload.
	EventConnectionClosed EventType = "CONNECTION_CLOSED"

	// EventGameFinished fires exactly once per finalized game.
	// Payload: GameFinishedPayload.
	EventGameFinished EventType = "GAME_FINISHED"
)

// ConnectionClosedPayload identifies the user whose connection closed.
type ConnectionClosedPayload struct {
	UserID string
}

// GameFinishedPayload identifies a finalized game and its participants.
type GameFinishedPayload struct {
	GameID  string
	WhiteID string
	BlackID string
}

// Event represents an event in the system
type Event struct {
	Type    EventType
	GameID  string // Optional, can be empty for non-game events
	Payload interface{}
}

// Handler is a function that processes events
type Handler func(event Event)

// Publisher is the central event publisher. Dispatch is synchronous so
// subscribers observe events in the order they were published.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// Publish delivers an event to all subscribers of its type, in registration
// order, on the caller's goroutine.
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	handlers := append([]Handler(nil), p.subscribers[event.Type]...)
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
