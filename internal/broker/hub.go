// Package broker is the WebSocket broker: an HTTP server that upgrades
// connections under a single root path, validates their query
// parameters, and fans status/reload messages out per target.
package broker

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Connection is one upgraded client, tagged with the target it claims
// and the compiledTimestamp it last saw.
type Connection struct {
	conn              *websocket.Conn
	target            string
	lastSeenTimestamp int64
	send              chan ServerMessage
	closed            bool
}

// Hub owns the set of live Connections, grouped by target name, and the
// pump goroutine that queues outbound messages onto each Connection's
// send channel. Directly grounded on
// codeready-toolchain-tarsy's WSHub: register/unregister/broadcast
// channels plus a Run() pump loop, generalized here from one global
// client set to per-target fan-out.
type Hub struct {
	mu          sync.RWMutex
	byTarget    map[string]map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	broadcast   chan targetMessage
	directSend  chan directMessage
}

type targetMessage struct {
	target  string
	message ServerMessage
}

type directMessage struct {
	conn    *Connection
	message ServerMessage
}

// NewHub constructs an idle Hub; call Run in a goroutine to start its
// pump loop.
func NewHub() *Hub {
	return &Hub{
		byTarget:   map[string]map[*Connection]bool{},
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan targetMessage, 256),
		directSend: make(chan directMessage, 256),
	}
}

// Run is the hub's single pump goroutine: every change to the connection
// set and every enqueue onto a Connection's send channel happens here;
// the per-connection goroutines in server.go do the socket writes.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.byTarget[c.target] == nil {
				h.byTarget[c.target] = map[*Connection]bool{}
			}
			h.byTarget[c.target][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.byTarget[c.target]; ok {
				delete(conns, c)
				if len(conns) == 0 {
					delete(h.byTarget, c.target)
				}
			}
			h.mu.Unlock()
			if !c.closed {
				c.closed = true
				close(c.send)
			}

		case m := <-h.broadcast:
			h.mu.RLock()
			for c := range h.byTarget[m.target] {
				select {
				case c.send <- m.message:
				default:
					log.Printf("broker: dropping message to slow client on target %q", m.target)
				}
			}
			h.mu.RUnlock()

		case m := <-h.directSend:
			select {
			case m.conn.send <- m.message:
			default:
			}
		}
	}
}

// Broadcast queues message for delivery to every connection currently
// on target.
func (h *Hub) Broadcast(target string, message ServerMessage) {
	h.broadcast <- targetMessage{target: target, message: message}
}

// Send queues message for delivery to one specific connection (used for
// validation-failure responses that must not go to other clients).
func (h *Hub) Send(c *Connection, message ServerMessage) {
	h.directSend <- directMessage{conn: c, message: message}
}

// ConnectedTargets returns the set of target names with at least one
// live connection — used by the scheduler's "connected client" priority
// tier (spec.md §5).
func (h *Hub) ConnectedTargets() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.byTarget))
	for target, conns := range h.byTarget {
		if len(conns) > 0 {
			out[target] = true
		}
	}
	return out
}

// register/unregister are wrapped in unexported methods so server.go's per-
// connection goroutines don't reach into Hub's channels directly.
func (h *Hub) registerConn(c *Connection)   { h.register <- c }
func (h *Hub) unregisterConn(c *Connection) { h.unregister <- c }
