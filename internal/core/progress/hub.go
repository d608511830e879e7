package progress

import (
	"sync"

	"github.com/kaushikharsh99/Dropvault/internal/models"
)

const defaultListenerBuffer = 32

// Listener receives the progress tuples of one owner. Its channel is closed
// when the listener is dropped, either by Unsubscribe or because it fell behind.
type Listener struct {
	owner  string
	ch     chan models.Progress
	closed bool
}

func (l *Listener) C() <-chan models.Progress { return l.ch }

// Hub keeps the listener set per owner for this process.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]map[*Listener]struct{}
	buffer    int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultListenerBuffer
	}
	return &Hub{listeners: make(map[string]map[*Listener]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe(owner string) *Listener {
	l := &Listener{owner: owner, ch: make(chan models.Progress, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[owner]
	if !ok {
		set = make(map[*Listener]struct{})
		h.listeners[owner] = set
	}
	set[l] = struct{}{}
	return l
}

func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(l)
}

// Deliver pushes p to every listener of its owner and returns how many got it.
// A listener whose buffer is full is dropped.
func (h *Hub) Deliver(p models.Progress) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for l := range h.listeners[p.OwnerID] {
		select {
		case l.ch <- p:
			n++
		default:
			h.dropLocked(l)
		}
	}
	return n
}

// Count returns the number of live listeners for owner.
func (h *Hub) Count(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[owner])
}

func (h *Hub) dropLocked(l *Listener) {
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)

	set := h.listeners[l.owner]
	delete(set, l)
	if len(set) == 0 {
		delete(h.listeners, l.owner)
	}
}
