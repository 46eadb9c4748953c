package runtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	// Slow clients beyond this backlog are disconnected rather than
	// allowed to stall the broadcaster.
	wsSendBuffer = 64
)

// eventHub fans session events out to connected UI clients over
// websockets. Clients are read-only; inbound messages are discarded.
type eventHub struct {
	log      *slog.Logger
	upgrader ws.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *ws.Conn
	send chan []byte
}

func newEventHub(log *slog.Logger) *eventHub {
	return &eventHub{
		log: log,
		upgrader: ws.Upgrader{
			// Local-only daemon; the listener binds to loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *eventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("ui client connected", slog.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Broadcast queues payload for every connected client. Clients whose
// send buffer is full are dropped.
func (h *eventHub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			delete(h.clients, client)
			close(client.send)
			client.conn.Close()
			h.log.Warn("dropping slow ui client",
				slog.String("remote", client.conn.RemoteAddr().String()))
		}
	}
}

// Close disconnects all clients.
func (h *eventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
}

func (h *eventHub) writeLoop(client *wsClient) {
	for payload := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := client.conn.WriteMessage(ws.TextMessage, payload); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *eventHub) readLoop(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway, ws.CloseAbnormalClosure) {
				h.log.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			h.remove(client)
			return
		}
	}
}

func (h *eventHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
}
