package hub

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var (
	ErrOffline      = errors.New("hub: user not connected")
	ErrBackpressure = errors.New("hub: outbound queue full")
)

type Conn struct {
	UID string
	WS  *websocket.Conn
	// bounded outbound queue (backpressure)
	Out chan []byte
}

func NewConn(uid string, ws *websocket.Conn, queue int) *Conn {
	if queue <= 0 {
		queue = 256
	}
	return &Conn{UID: uid, WS: ws, Out: make(chan []byte, queue)}
}

// Hub holds the connections attached to this node. A user has at most one
// connection; attaching again replaces the previous one.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func New() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Set attaches c and returns the connection it replaced, if any.
func (h *Hub) Set(c *Conn) *Conn {
	h.mu.Lock()
	old := h.conns[c.UID]
	h.conns[c.UID] = c
	h.mu.Unlock()
	return old
}

func (h *Hub) Get(uid string) (*Conn, bool) {
	h.mu.RLock()
	c, ok := h.conns[uid]
	h.mu.RUnlock()
	return c, ok
}

// Del detaches c. It is a no-op when c was already replaced.
func (h *Hub) Del(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[c.UID]; ok && cur == c {
		delete(h.conns, c.UID)
		return true
	}
	return false
}

func (h *Hub) Len() int {
	h.mu.RLock()
	n := len(h.conns)
	h.mu.RUnlock()
	return n
}

// Push queues b on the user's connection without blocking.
func (h *Hub) Push(uid string, b []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[uid]
	if !ok {
		return ErrOffline
	}
	select {
	case c.Out <- b:
		return nil
	default:
		return ErrBackpressure
	}
}
