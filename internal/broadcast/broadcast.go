// Package broadcast is the Invalidation Broadcaster: a websocket hub pushing
// cache version events to connected clients.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/metrics"
)

// EventType names a push channel event.
type EventType string

const (
	EventVersionUpdate EventType = "version_update"
	EventInvalidate    EventType = "invalidate"
	EventHeartbeat     EventType = "heartbeat"
)

// Event is the wire payload of every push message.
type Event struct {
	Type      EventType `json:"type"`
	Version   string    `json:"version,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

const (
	DefaultHeartbeat = 30 * time.Second
	writeWait        = 10 * time.Second
	sendBuffer       = 16
)

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub tracks connected clients.
type Hub struct {
	authority *cacheversion.Authority
	heartbeat time.Duration
	log       zerolog.Logger
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// New builds a hub announcing authority's tokens. heartbeat <= 0 uses DefaultHeartbeat.
func New(authority *cacheversion.Authority, heartbeat time.Duration, log zerolog.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		authority: authority,
		heartbeat: heartbeat,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// read-only public data; any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[string]*client{},
	}
}

// Start subscribes to version bumps and runs the heartbeat loop until Stop or ctx is done.
func (h *Hub) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.unsubscribe = h.authority.Subscribe(func(tok cacheversion.Token) {
		h.Broadcast(Event{Type: EventVersionUpdate, Version: tok.Version, Timestamp: tok.Timestamp})
	})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Broadcast(Event{Type: EventHeartbeat, Timestamp: time.Now().UnixMilli()})
			}
		}
	}()
}

// Stop ends the heartbeat loop and disconnects every client.
func (h *Hub) Stop() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.Lock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
	h.mu.Unlock()
	metrics.BroadcastClients.Set(0)
}

// Invalidate tells clients to drop cached reads without changing the version.
func (h *Hub) Invalidate() int {
	return h.Broadcast(Event{Type: EventInvalidate, Timestamp: time.Now().UnixMilli()})
}

// Broadcast queues ev to every client and returns how many received it.
// Clients whose buffer is full are disconnected.
func (h *Hub) Broadcast(ev Event) int {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal push event")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, c := range h.clients {
		select {
		case c.send <- msg:
			n++
		default:
			h.log.Warn().Str("client", id).Msg("push client too slow; disconnecting")
			c.close()
			delete(h.clients, id)
		}
	}
	metrics.BroadcastClients.Set(float64(len(h.clients)))
	metrics.BroadcastEventsTotal.WithLabelValues(string(ev.Type)).Add(float64(n))
	return n
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and sends the current version first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	tok := h.authority.Current()
	first, _ := json.Marshal(Event{Type: EventVersionUpdate, Version: tok.Version, Timestamp: tok.Timestamp})
	c.send <- first

	h.mu.Lock()
	h.clients[c.id] = c
	metrics.BroadcastClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	h.log.Debug().Str("client", c.id).Msg("push client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	metrics.BroadcastClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

// readPump only drains control frames; clients never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		h.log.Debug().Str("client", c.id).Msg("push client disconnected")
	}()

	idle := 2 * h.heartbeat
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	}
}

func (h *Hub) writePump(c *client) {
	ping := time.NewTicker(h.heartbeat)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
