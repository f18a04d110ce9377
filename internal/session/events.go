package session

import (
	"sync"
)

// Provider events delivered to dapps
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
)

// Event is one message pushed to a dapp session
type Event struct {
	Origin string `json:"origin"`
	Name   string `json:"event"`
	Data   any    `json:"data"`
}

const subscriberBuffer = 16

// Events is a per-origin broadcast bus. Slow subscribers drop events
// rather than block the publisher.
type Events struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewEvents creates an empty bus
func NewEvents() *Events {
	return &Events{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers for events to origin. The returned func unsubscribes
// and closes the channel.
func (e *Events) Subscribe(origin string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	if e.subs[origin] == nil {
		e.subs[origin] = make(map[int]chan Event)
	}
	e.subs[origin][id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs[origin], id)
			if len(e.subs[origin]) == 0 {
				delete(e.subs, origin)
			}
			e.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast sends an event to every subscriber of origin and returns
// how many received it.
func (e *Events) Broadcast(origin, name string, data any) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	delivered := 0
	for _, ch := range e.subs[origin] {
		select {
		case ch <- Event{Origin: origin, Name: name, Data: data}:
			delivered++
		default:
		}
	}
	return delivered
}

// BroadcastAll sends an event to every subscribed origin
func (e *Events) BroadcastAll(name string, data any) int {
	e.mu.RLock()
	origins := make([]string, 0, len(e.subs))
	for origin := range e.subs {
		origins = append(origins, origin)
	}
	e.mu.RUnlock()

	delivered := 0
	for _, origin := range origins {
		delivered += e.Broadcast(origin, name, data)
	}
	return delivered
}
