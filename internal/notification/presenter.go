package notification

import (
	"sync"

	"github.com/google/uuid"
)

// Sheet event types
const (
	SheetOpen  = "open"
	SheetClose = "close"
)

// SheetEvent asks the UI to show or hide the approval surface
type SheetEvent struct {
	Type       string `json:"type"`
	WindowID   string `json:"windowId"`
	ApprovalID string `json:"approvalId,omitempty"`
}

// Presenter shows the approval surface. The service opens at most one
// window at a time.
type Presenter interface {
	Open(approval *Approval) (windowID string, err error)
	Close(windowID string)
}

// Bus is a Presenter that publishes sheet events to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan SheetEvent
	next int
}

var _ Presenter = (*Bus)(nil)

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan SheetEvent)}
}

// Subscribe returns a buffered event channel and its cancel func
func (b *Bus) Subscribe() (<-chan SheetEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan SheetEvent, 8)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) publish(ev SheetEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) Open(approval *Approval) (string, error) {
	id := uuid.NewString()
	b.publish(SheetEvent{Type: SheetOpen, WindowID: id, ApprovalID: approval.ID})
	return id, nil
}

func (b *Bus) Close(windowID string) {
	b.publish(SheetEvent{Type: SheetClose, WindowID: windowID})
}
