// Package ws bridges wager and payout lifecycle events from the signal bus
// to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// DefaultTopics are the bus patterns the hub subscribes to and the topics a
// new client receives until it narrows its subscription.
var DefaultTopics = []string{"wager.*", "payout.*"}

// Config controls what the hub subscribes to and replays on connect.
type Config struct {
	Topics []string
	// ReplayStream is read on connect to send the last ReplayCount events.
	ReplayStream string
	ReplayCount  int
	// AllowedOrigins restricts the upgrade; empty allows every origin.
	AllowedOrigins []string
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
	wagers map[string]bool // empty means every wager
}

// subscribeMsg is the JSON frame a client sends to change its filter.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
	Wagers []string `json:"wagers"`
}

// envelope is the subset of an event the hub routes on.
type envelope struct {
	Event string `json:"event"`
	Wager *struct {
		ID string `json:"id"`
	} `json:"wager"`
	Payout *struct {
		WagerID string `json:"wager_id"`
	} `json:"payout"`
}

func (e envelope) wagerID() string {
	switch {
	case e.Wager != nil:
		return e.Wager.ID
	case e.Payout != nil:
		return e.Payout.WagerID
	}
	return ""
}

type broadcastMsg struct {
	topic   string
	wagerID string
	data    []byte
}

// Hub manages connected clients and fans bus events out to them.
type Hub struct {
	bus      domain.SignalBus
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMsg

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	if len(cfg.Topics) == 0 {
		cfg.Topics = DefaultTopics
	}
	h := &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMsg, 256),
		clients:    make(map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Run subscribes to the configured topics and runs the broadcast loop until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, topic := range h.cfg.Topics {
		msgs, err := h.bus.Subscribe(ctx, topic)
		if err != nil {
			h.logger.Error("ws: subscribe failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			continue
		}
		go h.forward(ctx, topic, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.topic, msg.wagerID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) forward(ctx context.Context, pattern string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("topic", pattern))
				return
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{topic: env.Event, wagerID: env.wagerID(), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request, replays recent events and registers the
// client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool),
		wagers: make(map[string]bool),
	}
	for _, t := range h.cfg.Topics {
		c.topics[t] = true
	}
	if id := r.URL.Query().Get("wager"); id != "" {
		c.wagers[id] = true
	}

	h.replay(r.Context(), c)
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (h *Hub) replay(ctx context.Context, c *client) {
	if h.cfg.ReplayStream == "" || h.cfg.ReplayCount <= 0 {
		return
	}
	recent, err := h.bus.Recent(ctx, h.cfg.ReplayStream, h.cfg.ReplayCount)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, data := range recent {
		var env envelope
		if json.Unmarshal(data, &env) != nil || !c.wants(env.Event, env.wagerID()) {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(message, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Topics {
			c.topics[t] = true
		}
		for _, id := range msg.Wagers {
			c.wagers[id] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.topics, t)
		}
		for _, id := range msg.Wagers {
			delete(c.wagers, id)
		}
	}
}

// wants reports whether topic matches one of the client's topic patterns
// and, when the client follows specific wagers, whether wagerID is one.
func (c *client) wants(topic, wagerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.wagers) > 0 && !c.wagers[wagerID] {
		return false
	}
	if c.topics[topic] {
		return true
	}
	for pattern := range c.topics {
		if ok, _ := path.Match(pattern, topic); ok {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
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
