// Package realtime pushes events to connected portal clients over
// websockets. Each account may hold several connections (tabs, devices).
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Envelope is the frame sent to clients
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	At    time.Time   `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks the connections of every account
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a hub accepting browser connections from origins. An empty
// list or "*" accepts any origin.
func NewHub(logger *zap.Logger, origins []string) *Hub {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
		logger: logger.Named("realtime"),
	}
}

// Serve upgrades the request and attaches the connection to subjectID until
// the client goes away
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, subjectID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(subjectID, c)
	go h.writePump(c)
	h.readPump(subjectID, c)
}

func (h *Hub) register(subjectID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[subjectID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[subjectID] = set
	}
	set[c] = struct{}{}
	h.logger.Debug("client connected", zap.String("subject_id", subjectID), zap.Int("connections", len(set)))
}

func (h *Hub) unregister(subjectID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[subjectID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			c.close()
		}
		if len(set) == 0 {
			delete(h.clients, subjectID)
		}
	}
}

// readPump drains client frames so pongs and close frames are processed
func (h *Hub) readPump(subjectID string, c *client) {
	defer func() {
		h.unregister(subjectID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.String("subject_id", subjectID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish sends an event to every connection of recipientID. Clients whose
// buffer is full are dropped.
func (h *Hub) Publish(recipientID, event string, payload interface{}) {
	msg, err := json.Marshal(Envelope{Event: event, Data: payload, At: time.Now().UTC()})
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients[recipientID] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow client", zap.String("subject_id", recipientID))
		h.unregister(recipientID, c)
	}
}

// Connections returns the number of open connections of subjectID
func (h *Hub) Connections(subjectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[subjectID])
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.clients {
		for c := range set {
			c.close()
		}
		delete(h.clients, id)
	}
}
