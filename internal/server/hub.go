package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"perpkeeper/internal/book"
	"perpkeeper/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// Book snapshots run a few KB; a small buffer absorbs bursts without
	// letting a stalled client pin memory.
	clientSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The keeper API sits behind the edge proxy; origin policy is
		// enforced there.
		return true
	},
}

// depthUpdateMessage is the frame pushed to every subscriber after each
// book refresh.
type depthUpdateMessage struct {
	Type string         `json:"type"`
	Data *book.Snapshot `json:"data"`
}

// Hub fans book snapshots out to websocket subscribers. Clients that
// cannot keep up are dropped rather than allowed to back the hub up.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	metrics    *observability.Metrics
	log        zerolog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

func NewHub(metrics *observability.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		metrics:    metrics,
		log:        log,
	}
}

// Run owns the client set; it must run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.metrics.WSClients.Set(float64(len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.metrics.WSClients.Set(float64(len(h.clients)))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.metrics.WSClients.Set(float64(len(h.clients)))
		}
	}
}

// BroadcastSnapshot pushes a new book snapshot to every subscriber.
func (h *Hub) BroadcastSnapshot(s *book.Snapshot) {
	data, err := json.Marshal(&depthUpdateMessage{Type: "depthUpdate", Data: s})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal depth update")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Broadcast queue full; the next refresh supersedes this one anyway.
	}
}

// ServeWS upgrades the connection and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		hub:  h,
		send: make(chan []byte, clientSendBuffer),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards client frames; the stream is server-push only. It
// exists to surface closes and answer pings.
func (c *wsClient) readPump() {
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
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
