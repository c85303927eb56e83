package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rawblock/mule-engine/internal/metrics"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

// Live stream message types.
const (
	MessageAnalysisComplete = "analysis_complete"
	MessageRingAlert        = "ring_alert"
	MessageSessionDeleted   = "session_deleted"
)

// StreamMessage is the envelope pushed to dashboard clients.
type StreamMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
	Data any    `json:"data"`
}

// Hub maintains the set of active websocket clients and broadcasts messages.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mutex     sync.Mutex
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		clients:   make(map[*websocket.Conn]bool),
		logger:    logger.Named("ws"),
	}
}

// Run fans queued messages out to every client until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			metrics.WebsocketClients.Set(0)
			return
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				// Write deadline keeps one stuck client from stalling the hub
				_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Debug("websocket write failed, dropping client", zap.Error(err))
					client.Close()
					delete(h.clients, client)
				}
			}
			metrics.WebsocketClients.Set(float64(len(h.clients)))
			h.mutex.Unlock()
		}
	}
}

// Close stops Run and disconnects every client. Messages broadcast after
// Close are discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	metrics.WebsocketClients.Set(float64(total))
	h.logger.Info("client connected", zap.Int("clients", total))

	// Clients only receive, but reading is what surfaces disconnects
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			metrics.WebsocketClients.Set(float64(total))
			h.logger.Info("client disconnected", zap.Int("clients", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket error", zap.Error(err))
				}
				return
			}
		}
	}()
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Broadcast queues raw data for all clients. When the queue is full the
// message is dropped rather than blocking the request path.
func (h *Hub) Broadcast(data []byte) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// Publish wraps payload in a StreamMessage and broadcasts it.
func (h *Hub) Publish(typ string, payload any) {
	data, err := json.Marshal(StreamMessage{Type: typ, TS: time.Now().UnixMilli(), Data: payload})
	if err != nil {
		h.logger.Error("encoding stream message", zap.String("type", typ), zap.Error(err))
		return
	}
	h.Broadcast(data)
}
