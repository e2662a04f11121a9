package observability

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHub fans a live feed of LLMCostRecords out to connected websocket
// clients, for §4.7's optional observability streaming push. Grounded on
// the teacher's pkg/api.WSHub (register/unregister/broadcast channels over
// a client set), generalized from session-event messages to cost records.
type StreamHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan storage.LLMCostRecord
	mu         sync.RWMutex
}

// NewStreamHub constructs a StreamHub. Run must be started in its own
// goroutine before any client connects.
func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan storage.LLMCostRecord, 256),
	}
}

// Run services the hub's channels until ctx-independent shutdown (the
// caller simply stops sending once the process is tearing down).
func (h *StreamHub) Run() {
	log := obslog.With("observability")
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", n).Msg("cost stream client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", n).Msg("cost stream client disconnected")

		case rec := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(rec); err != nil {
					log.Warn().Err(err).Msg("cost stream write failed, dropping client")
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes rec to every connected client. Non-blocking: a full
// channel drops the update rather than stalling the caller's Record path.
func (h *StreamHub) Broadcast(rec storage.LLMCostRecord) {
	select {
	case h.broadcast <- rec:
	default:
		obslog.With("observability").Warn().Msg("cost stream broadcast buffer full, dropping update")
	}
}

// HandleWS upgrades the request and registers the connection with the hub.
func (h *StreamHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.With("observability").Warn().Err(err).Msg("cost stream upgrade failed")
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
