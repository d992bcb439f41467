package api

import (
	"sync"

	"github.com/leapstack-labs/csvchat/internal/chat"
)

// Notifier fans workspace view changes out to event stream listeners.
// Each listener holds at most one pending view; a newer view replaces an
// unread one.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan chat.View]struct{}
}

// NewNotifier creates a Notifier with no listeners.
func NewNotifier() *Notifier {
	return &Notifier{
		listeners: make(map[chan chat.View]struct{}),
	}
}

// Subscribe returns a channel that receives view changes.
// The caller must call Unsubscribe when done.
func (n *Notifier) Subscribe() chan chat.View {
	ch := make(chan chat.View, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan chat.View) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

// Publish sends v to every listener without blocking.
func (n *Notifier) Publish(v chat.View) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Len returns the number of listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
