package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/vista/internal/logging"
)

// Message types sent to the browser.
const (
	MessageReload = "reload"
	MessageError  = "error"
)

const (
	sendBuffer    = 16
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	registerQueue = 64
)

// UpdateMessage is the JSON payload pushed to connected browsers.
type UpdateMessage struct {
	Type      string            `json:"type"`
	Templates []string          `json:"templates,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps track of live-reload connections and fans messages out to them.
type Hub struct {
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex
	register     chan *client
	unregister   chan *websocket.Conn
	broadcast    chan []byte
	origins      []string
	logger       logging.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewHub starts a hub. Connections from origins other than the request host
// are refused unless they match one of origins.
func NewHub(origins []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client, registerQueue),
		unregister: make(chan *websocket.Conn, registerQueue),
		broadcast:  make(chan []byte, sendBuffer),
		origins:    origins,
		logger:     logger.WithComponent("hub"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	h.serve(c)
}

// Broadcast queues msg for every connected client. It never blocks; the
// message is dropped when the hub is saturated or shut down.
func (h *Hub) Broadcast(msg UpdateMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(h.ctx, err, "failed to encode update message")
		return
	}

	select {
	case <-h.ctx.Done():
	case h.broadcast <- data:
	default:
		h.logger.Warn(h.ctx, nil, "broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Clients returns the number of registered connections.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown stops the hub and disconnects every client.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Each serve loop closes its own connection once the hub context ends.
	h.clientsMutex.Lock()
	h.clients = make(map[*websocket.Conn]*client)
	h.clientsMutex.Unlock()
	return nil
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clientsMutex.Lock()
			h.clients[c.conn] = c
			n := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "client connected", "clients", n)

		case conn := <-h.unregister:
			h.clientsMutex.Lock()
			if c, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(c.send)
			}
			n := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "client disconnected", "clients", n)

		case data := <-h.broadcast:
			h.clientsMutex.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow client; the write loop will notice the close.
					go h.drop(c.conn)
				}
			}
			h.clientsMutex.RUnlock()

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// serve pumps queued messages to c until the connection or the hub closes.
// Browsers never send anything, so reads are discarded.
func (h *Hub) serve(c *client) {
	defer h.drop(c.conn)
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.conn.CloseRead(h.ctx)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "websocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
