// Package hub implements the WebSocket distribution layer: a single
// hub goroutine owns the subscriber set and fans snapshots out through
// per-subscriber buffered queues, so one slow reader never stalls the
// rest.
package hub

import (
	"context"
	"log"
	"sync"

	"github.com/skyspotter/overhead/internal/track"
)

// SubscriptionCounter is notified as subscribers come and go. The
// poller implements it to start and stop upstream polling.
type SubscriptionCounter interface {
	Subscribe()
	Unsubscribe()
}

// broadcastItem is one snapshot already encoded for the wire.
type broadcastItem struct {
	seq    uint64
	frames [][]byte
}

// Hub maintains the set of active subscribers and routes snapshots to
// them. A single Hub goroutine serializes access to the subscriber set
// via channels.
type Hub struct {
	// subscribers is owned by the Run goroutine.
	subscribers map[*Client]bool

	// register receives clients to add.
	register chan *Client

	// unregister receives clients to remove.
	unregister chan *Client

	// broadcast receives encoded snapshots for fan-out.
	broadcast chan broadcastItem

	// counter gets Subscribe/Unsubscribe calls; may be nil.
	counter SubscriptionCounter

	// dashboardSize is the aircraft_list top-N.
	dashboardSize int

	// latest is replayed to late joiners. Owned by the Run goroutine.
	latest *broadcastItem

	// mu protects external reads of the subscriber count.
	mu    sync.RWMutex
	count int
}

// New creates a hub. counter may be nil when nothing tracks demand.
func New(counter SubscriptionCounter, dashboardSize int) *Hub {
	return &Hub{
		subscribers:   make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan broadcastItem, 8),
		counter:       counter,
		dashboardSize: dashboardSize,
	}
}

// Publish encodes a snapshot once and queues it for fan-out. Called
// from the poller's goroutine.
func (h *Hub) Publish(snapshot track.Snapshot) {
	update, err := snapshot.WireUpdate().Encode()
	if err != nil {
		log.Printf("Failed to encode update: %v", err)
		return
	}

	frames := [][]byte{update}
	if len(snapshot.Visible) > 0 {
		list, err := snapshot.WireList(h.dashboardSize).Encode()
		if err != nil {
			log.Printf("Failed to encode list: %v", err)
		} else {
			frames = append(frames, list)
		}
	}

	h.broadcast <- broadcastItem{seq: snapshot.Seq, frames: frames}
}

// Run starts the hub's main event loop. It processes register,
// unregister, and broadcast events until the context is cancelled.
// Run should be called in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.subscribers[client] = true
			h.setCount(len(h.subscribers))
			if h.counter != nil {
				h.counter.Subscribe()
			}
			// Late joiners see the current sky without waiting a
			// full poll interval.
			if h.latest != nil {
				for _, frame := range h.latest.frames {
					client.trySend(frame)
				}
				client.lastSeq = h.latest.seq
			}
			log.Printf("Client connected from %s (%d total)", client.ip, len(h.subscribers))

		case client := <-h.unregister:
			if _, ok := h.subscribers[client]; ok {
				delete(h.subscribers, client)
				h.setCount(len(h.subscribers))
				client.closeOnce()
				if h.counter != nil {
					h.counter.Unsubscribe()
				}
				log.Printf("Client disconnected from %s (%d total)", client.ip, len(h.subscribers))
			}

		case item := <-h.broadcast:
			h.latest = &item
			for client := range h.subscribers {
				// Never deliver an older snapshot than the client
				// has already seen.
				if item.seq <= client.lastSeq {
					continue
				}
				client.lastSeq = item.seq
				for _, frame := range item.frames {
					client.trySend(frame)
				}
			}

		case <-ctx.Done():
			for client := range h.subscribers {
				delete(h.subscribers, client)
				client.closeOnce()
				if h.counter != nil {
					h.counter.Unsubscribe()
				}
			}
			h.setCount(0)
			log.Printf("Hub stopped")
			return
		}
	}
}

// Register queues a client for registration with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister queues a client for removal from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SubscriberCount returns the number of connected subscribers.
// It is safe for concurrent use.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
