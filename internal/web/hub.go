package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/zphocus/internal/debug"
	"github.com/cjeanneret/zphocus/internal/panel"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
	sendQueue  = 32
)

// Controller is the panel as seen by the web surfaces.
type Controller interface {
	Snapshot() panel.State
	SetFocus()
	Goto(pos float64)
	Jog(dir int)
	Stop()
	ChangeSpeed(tier int)
	ChangeInput(v float64)
	ResetInput()
}

// Hub keeps the connected pages in sync with the panel and forwards their
// intents to it.
type Hub struct {
	ctrl     Controller
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int

	mu        sync.RWMutex
	clients   map[*Client]struct{}
	lastState []byte
}

// Client is one connected page.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewHub creates a hub. Each client may send limit intents per second,
// with bursts of burst.
func NewHub(ctrl Controller, limit rate.Limit, burst int) *Hub {
	return &Hub{
		ctrl:  ctrl,
		limit: limit,
		burst: burst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the panel is served on the observatory LAN
			},
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Info("websocket upgrade failed: %v", err)
		return
	}
	c := &Client{
		id:      uuid.NewString(),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendQueue),
		limiter: rate.NewLimiter(h.limit, h.burst),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	debug.Live("client %s connected from %s (%d online)", c.id, r.RemoteAddr, n)

	c.sendMessage(TypeHello, HelloPayload{ClientID: c.id})
	c.sendMessage(TypeState, h.ctrl.Snapshot())

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishState pushes s to every client. Unchanged states are skipped.
func (h *Hub) PublishState(s panel.State) {
	data, err := Encode(TypeState, s)
	if err != nil {
		debug.Error(err)
		return
	}
	h.mu.Lock()
	if bytes.Equal(data, h.lastState) {
		h.mu.Unlock()
		return
	}
	h.lastState = data
	h.mu.Unlock()
	h.broadcast(data)
}

// PublishAlert pushes an alert to every client.
func (h *Hub) PublishAlert(text string) {
	data, err := Encode(TypeAlert, AlertPayload{Text: text})
	if err != nil {
		debug.Error(err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.queue(data)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.Close()
		debug.Live("client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Info("client %s: %v", c.id, err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ErrInvalidMessage, "Failed to parse message")
		return
	}
	// stop is never throttled
	if msg.Type != TypeStop && !c.limiter.Allow() {
		c.sendError(ErrRateLimited, "Too many commands")
		return
	}
	debug.Verbose("client %s: %s %s", c.id, msg.Type, msg.Payload)

	ctrl := c.hub.ctrl
	switch msg.Type {
	case TypeSet:
		if len(msg.Payload) == 0 {
			ctrl.SetFocus()
			return
		}
		var p FloatT
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(ErrInvalidMessage, err.Error())
			return
		}
		ctrl.Goto(p.F64)

	case TypeJog:
		var p IntT
		if err := msg.ParsePayload(&p); err != nil || (p.Int != 1 && p.Int != -1) {
			c.sendError(ErrInvalidMessage, "jog direction must be 1 or -1")
			return
		}
		ctrl.Jog(p.Int)

	case TypeStop:
		ctrl.Stop()

	case TypeSpeed:
		var p IntT
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(ErrInvalidMessage, err.Error())
			return
		}
		ctrl.ChangeSpeed(p.Int)

	case TypeInput:
		var p FloatT
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(ErrInvalidMessage, err.Error())
			return
		}
		ctrl.ChangeInput(p.F64)

	case TypeUpdate:
		ctrl.ResetInput()

	default:
		c.sendError(ErrInvalidMessage, "unknown message type "+msg.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMessage(typ string, payload interface{}) {
	data, err := Encode(typ, payload)
	if err != nil {
		debug.Error(err)
		return
	}
	c.queue(data)
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(TypeError, ErrorPayload{Code: code, Message: message})
}

// queue drops the message when the client is too slow to keep up.
func (c *Client) queue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		debug.Verbose("client %s send buffer full, dropping message", c.id)
	}
}

// Close ends the client's write loop, which closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
