package events

import (
	"sort"
	"sync"

	"chatsync/internal/models"
)

// Type names an event emitted by the sync engine.
type Type string

const (
	MessageAdded      Type = "messageAdded"
	MessageConfirmed  Type = "messageConfirmed"
	MessageReceived   Type = "messageReceived"
	MessageFailed     Type = "messageFailed"
	ConnectionChanged Type = "connectionChanged"
	TypingChanged     Type = "typingChanged"
	PresenceChanged   Type = "presenceChanged"
)

// Event is the payload delivered to subscribers. Exactly one of the optional
// fields is populated depending on the event type.
type Event struct {
	Type      Type
	ChannelID int64
	Message   *models.Message
	State     string
	UserID    string
	Typing    bool
}

// Handler receives events synchronously on the emitter's goroutine.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	eventType Type
	id        int
}

// Bus is a typed in-process event bus. Dispatch is synchronous and in
// subscription order; handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Type]map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type]map[int]Handler),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.handlers[t] == nil {
		b.handlers[t] = make(map[int]Handler)
	}
	b.handlers[t][b.nextID] = h
	return Subscription{eventType: t, id: b.nextID}
}

// Unsubscribe removes a previously registered handler. Removing an unknown
// subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if hs, ok := b.handlers[sub.eventType]; ok {
		delete(hs, sub.id)
	}
}

// Emit delivers the event to every subscriber of its type, in subscription
// order, on the caller's goroutine.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.Type]
	ids := make([]int, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	// ids are assigned in subscription order
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, hs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// SubscriberCount reports the number of handlers for an event type.
func (b *Bus) SubscriberCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}
